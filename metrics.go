package offlinecache

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordDrainDuration records how long a queue drain took
	RecordDrainDuration(d time.Duration)

	// RecordReplayed records how many queued writes were replayed
	RecordReplayed(count int)

	// RecordReplayFailure records a replay that halted the drain
	RecordReplayFailure(reason string)

	// RecordStoreError records store-level failures by operation
	RecordStoreError(op string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordDrainDuration(d time.Duration) {}
func (*NoOpMetricsCollector) RecordReplayed(count int)            {}
func (*NoOpMetricsCollector) RecordReplayFailure(reason string)   {}
func (*NoOpMetricsCollector) RecordStoreError(op string)          {}
