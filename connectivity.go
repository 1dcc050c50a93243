package offlinecache

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// SignalSource is a ConnectivitySource fed by the embedding platform. The
// host application forwards its native online/offline events through Set.
type SignalSource struct {
	mu     sync.RWMutex
	online bool
	events chan bool
}

// NewSignalSource creates a SignalSource starting in the given state.
func NewSignalSource(online bool) *SignalSource {
	return &SignalSource{
		online: online,
		events: make(chan bool, 16),
	}
}

// Online returns the last signalled state.
func (s *SignalSource) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Events returns the transition stream.
func (s *SignalSource) Events() <-chan bool {
	return s.events
}

// Set records a platform connectivity event. Duplicate states are forwarded;
// the monitor ignores non-transitions.
func (s *SignalSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()

	select {
	case s.events <- online:
	default:
	}
}

// ProbeSource derives connectivity from periodic HTTP probes against a health
// endpoint. It is used where no platform signal exists (CLI, daemons).
type ProbeSource struct {
	url      string
	client   *http.Client
	interval time.Duration

	mu     sync.RWMutex
	online bool
	events chan bool
}

// NewProbeSource creates a ProbeSource polling url every interval. The
// initial state is determined by a synchronous probe.
func NewProbeSource(url string, interval time.Duration, client *http.Client) *ProbeSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p := &ProbeSource{
		url:      url,
		client:   client,
		interval: interval,
		events:   make(chan bool, 16),
	}
	p.online = p.probe(context.Background())
	return p
}

// Online returns the result of the most recent probe.
func (p *ProbeSource) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// Events returns the transition stream.
func (p *ProbeSource) Events() <-chan bool {
	return p.events
}

// Run probes until ctx is cancelled, emitting an event on every change.
func (p *ProbeSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			online := p.probe(ctx)

			p.mu.Lock()
			changed := online != p.online
			p.online = online
			p.mu.Unlock()

			if changed {
				select {
				case p.events <- online:
				default:
				}
			}
		}
	}
}

func (p *ProbeSource) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
