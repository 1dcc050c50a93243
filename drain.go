package offlinecache

import (
	"context"
	"log/slog"
	"time"

	cacheErrors "github.com/campuskit/offlinecache/errors"
	"github.com/campuskit/offlinecache/logging"
)

// DrainResult provides information about a completed drain attempt.
type DrainResult struct {
	// Replayed is the number of queued writes the server accepted.
	Replayed int

	// Remaining is the number of entries still queued when the drain ended.
	Remaining int

	// Halted is the entry the drain stopped at, if it stopped on a failure.
	Halted *PendingRequest

	// StartTime is when the drain began.
	StartTime time.Time

	// Duration is how long the drain took.
	Duration time.Duration
}

// Drainer replays the pending-write queue against the server. Entries are
// replayed strictly in insertion order, one at a time, each HTTP call awaited
// before the next is issued, so dependent writes keep their original causal
// order. A failing entry halts the drain: earlier entries stay removed, the
// failing entry and everything after it remain queued for the next attempt.
type Drainer struct {
	store    LocalStore
	replayer Replayer
	logger   *logging.Logger
	metrics  MetricsCollector

	// onProgress, if set, is invoked with the live pending count after every
	// successful removal so UI indicators can count down during a drain.
	onProgress func(pending int)
}

// DrainerOption configures a Drainer.
type DrainerOption func(*Drainer)

// WithDrainLogger sets the drain logger.
func WithDrainLogger(l *logging.Logger) DrainerOption {
	return func(d *Drainer) { d.logger = l }
}

// WithDrainMetrics sets the metrics collector.
func WithDrainMetrics(m MetricsCollector) DrainerOption {
	return func(d *Drainer) { d.metrics = m }
}

// WithProgress sets the live pending-count callback.
func WithProgress(fn func(pending int)) DrainerOption {
	return func(d *Drainer) { d.onProgress = fn }
}

// NewDrainer creates a Drainer over the given store and replayer.
func NewDrainer(store LocalStore, replayer Replayer, opts ...DrainerOption) *Drainer {
	d := &Drainer{
		store:    store,
		replayer: replayer,
		metrics:  &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.WithComponent(logging.Component("drainer"))
	}
	return d
}

// Drain replays every queued write in order. It returns a non-nil error when
// the drain halted before the queue emptied; the result is valid either way.
// There is no automatic conflict resolution: if the entity a queued write
// targets changed server-side in the interim, the server's rejection is
// surfaced to the caller, not swallowed.
func (d *Drainer) Drain(ctx context.Context) (*DrainResult, error) {
	result := &DrainResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
		d.metrics.RecordDrainDuration(result.Duration)
		d.metrics.RecordReplayed(result.Replayed)
	}()

	pending, err := d.store.ListPending(ctx)
	if err != nil {
		return result, cacheErrors.WrapOpComponent(err, cacheErrors.OpDrain, "drainer")
	}
	result.Remaining = len(pending)
	if len(pending) == 0 {
		return result, nil
	}

	d.logger.InfoContext(ctx, "draining pending writes",
		slog.Int("pending", len(pending)),
	)

	for i, req := range pending {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := d.replayer.Replay(ctx, req); err != nil {
			halted := req
			result.Halted = &halted
			d.metrics.RecordReplayFailure(string(cacheErrors.CodeOf(err)))
			d.logger.LogError(ctx, err, "replay failed, halting drain",
				slog.Int64("seq", req.Seq),
				slog.String("method", req.Method),
				slog.String("url", req.URL),
				slog.Int("remaining", len(pending)-i),
			)
			return result, cacheErrors.WrapOpComponent(err, cacheErrors.OpDrain, "drainer")
		}

		if err := d.store.Remove(ctx, req.Seq); err != nil {
			// The server accepted the write but the local delete failed.
			// Halting here keeps the entry for a duplicate replay rather
			// than risking a lost one; the entry's enqueue-time idempotency
			// key lets the server deduplicate it.
			halted := req
			result.Halted = &halted
			d.logger.LogError(ctx, err, "failed to remove replayed entry, halting drain",
				slog.Int64("seq", req.Seq),
			)
			return result, cacheErrors.WrapOpComponent(err, cacheErrors.OpDrain, "drainer")
		}

		result.Replayed++
		result.Remaining = len(pending) - i - 1
		if d.onProgress != nil {
			d.onProgress(result.Remaining)
		}
	}

	d.logger.InfoContext(ctx, "drain complete",
		slog.Int("replayed", result.Replayed),
	)
	return result, nil
}
