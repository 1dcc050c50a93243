package offlinecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/campuskit/offlinecache/logging"
)

// FlagOfflineNoticeSeen is the device-local flag recording that the one-time
// offline explainer has been shown. It persists across sessions, so the full
// notice appears only once per device.
const FlagOfflineNoticeSeen = "offline_notice_seen"

// ConnectivitySource is the platform connectivity signal: the current status
// plus a stream of online/offline transitions.
type ConnectivitySource interface {
	// Online returns the current connectivity status.
	Online() bool

	// Events returns the transition stream. true means online, false offline.
	Events() <-chan bool
}

// Status is a snapshot of the monitor's observable state. The UI always
// renders one of three states from it: online, offline, or syncing-N-changes.
type Status struct {
	// Online is the current connectivity state.
	Online bool

	// Syncing is true while a drain is in progress.
	Syncing bool

	// Pending is the number of queued writes. It counts down live during a
	// drain.
	Pending int

	// ShowOfflineNotice is true only on the first offline transition this
	// device has ever seen; the UI shows the full explainer then and an
	// abbreviated banner on every later transition.
	ShowOfflineNotice bool

	// LastError holds the failure that halted the most recent drain, or nil.
	// A non-nil value with Pending > 0 renders as "sync incomplete".
	LastError error
}

// Monitor tracks online/offline transitions, exposes derived state to the UI,
// and initiates a queue drain on every reconnection. It is the single place
// subscribing to platform connectivity events; UI components observe the
// Updates channel instead of listening to the platform themselves.
type Monitor struct {
	store   LocalStore
	drainer *Drainer
	source  ConnectivitySource
	logger  *logging.Logger
	metrics MetricsCollector

	mu      sync.RWMutex
	status  Status
	updates chan Status
	started bool
	closed  bool
	stop    chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(l *logging.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithMonitorMetrics sets the metrics collector for the monitor and its drains.
func WithMonitorMetrics(mc MetricsCollector) MonitorOption {
	return func(m *Monitor) { m.metrics = mc }
}

// NewMonitor creates a Monitor that drains the store's pending-write queue
// through replayer whenever connectivity returns.
func NewMonitor(store LocalStore, replayer Replayer, source ConnectivitySource, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:   store,
		source:  source,
		metrics: &NoOpMetricsCollector{},
		updates: make(chan Status, 16),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent(logging.Component("monitor"))
	}
	m.drainer = NewDrainer(store, replayer,
		WithDrainLogger(m.logger),
		WithDrainMetrics(m.metrics),
		WithProgress(m.setPending),
	)
	return m
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Updates returns the status stream. Snapshots are published on every state
// change, including each pending-count decrement during a drain. Slow
// consumers miss intermediate snapshots rather than blocking the monitor.
func (m *Monitor) Updates() <-chan Status {
	return m.updates
}

// Run reads the initial state from the platform signal, then consumes
// transitions until ctx is cancelled or Close is called. Transitions are
// processed to completion one at a time: a drain triggered by a reconnect
// finishes (or halts) before the next event is handled.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("monitor is closed")
	}
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.started = true
	m.mu.Unlock()

	online := m.source.Online()
	pending, err := m.store.PendingCount(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "failed to read pending count at startup")
	}
	m.publish(func(s *Status) {
		s.Online = online
		s.Pending = pending
	})

	// Catch up on writes queued in an earlier session.
	if online && pending > 0 {
		m.drain(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case nowOnline, ok := <-m.source.Events():
			if !ok {
				return nil
			}
			m.handleTransition(ctx, nowOnline)
		}
	}
}

// handleTransition applies one platform event to the state machine.
func (m *Monitor) handleTransition(ctx context.Context, nowOnline bool) {
	m.mu.RLock()
	wasOnline := m.status.Online
	m.mu.RUnlock()

	if nowOnline == wasOnline {
		return
	}

	if !nowOnline {
		m.toOffline(ctx)
		return
	}
	m.toOnline(ctx)
}

func (m *Monitor) toOffline(ctx context.Context) {
	firstEver, err := m.firstOfflineNotice(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "failed to read offline-notice flag")
	}

	m.logger.InfoContext(ctx, "connectivity lost",
		slog.Bool("first_offline", firstEver),
	)
	m.publish(func(s *Status) {
		s.Online = false
		s.Syncing = false
		s.ShowOfflineNotice = firstEver
	})
}

func (m *Monitor) toOnline(ctx context.Context) {
	pending, err := m.store.PendingCount(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "failed to read pending count")
	}

	m.logger.InfoContext(ctx, "connectivity restored",
		slog.Int("pending", pending),
	)
	m.publish(func(s *Status) {
		s.Online = true
		s.Pending = pending
		s.ShowOfflineNotice = false
	})

	if pending > 0 {
		m.drain(ctx)
	}
}

// Refresh recomputes the pending count from the store and publishes a
// snapshot. Feature modules call it after queueing a write while offline so
// the indicator reflects the new entry without waiting for a transition.
func (m *Monitor) Refresh(ctx context.Context) {
	pending, err := m.store.PendingCount(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "failed to refresh pending count")
		return
	}
	m.publish(func(s *Status) {
		s.Pending = pending
	})
}

// Drain forces a drain attempt outside the normal online transition, e.g.
// from a maintenance command. It uses the same halt-on-failure semantics.
func (m *Monitor) Drain(ctx context.Context) (*DrainResult, error) {
	return m.drain(ctx)
}

func (m *Monitor) drain(ctx context.Context) (*DrainResult, error) {
	m.publish(func(s *Status) {
		s.Syncing = true
		s.LastError = nil
	})

	result, err := m.drainer.Drain(ctx)

	m.publish(func(s *Status) {
		s.Syncing = false
		s.Pending = result.Remaining
		s.LastError = err
	})
	return result, err
}

// firstOfflineNotice reports whether the offline explainer has never been
// shown on this device, marking it seen as a side effect.
func (m *Monitor) firstOfflineNotice(ctx context.Context) (bool, error) {
	seen, err := m.store.Flag(ctx, FlagOfflineNoticeSeen)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := m.store.SetFlag(ctx, FlagOfflineNoticeSeen, true); err != nil {
		return true, err
	}
	return true, nil
}

// setPending updates the live count during a drain.
func (m *Monitor) setPending(pending int) {
	m.publish(func(s *Status) {
		s.Pending = pending
	})
}

// publish mutates the status under lock and emits a snapshot.
func (m *Monitor) publish(mutate func(*Status)) {
	m.mu.Lock()
	mutate(&m.status)
	snapshot := m.status
	m.mu.Unlock()

	select {
	case m.updates <- snapshot:
	default:
	}
}

// Close stops the monitor. It does not close the underlying store.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	return nil
}
