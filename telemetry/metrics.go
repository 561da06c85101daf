package telemetry

// Histogram bucket definitions for the poll loop's latency profiles
var (
	// PollCycleBuckets for whole poll cycles (listing + parallel streaming)
	PollCycleBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	// BlobBuckets for a single blob's stream-and-mark time
	BlobBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// Poll cycle metrics
var (
	// BlobsProcessed counts blobs that completed successfully
	BlobsProcessed Counter = NoopStat{}

	// BlobsFailed counts blobs whose cycle ended in a failed mark
	BlobsFailed Counter = NoopStat{}

	// BlobsSkipped counts claim attempts lost to another worker
	BlobsSkipped Counter = NoopStat{}

	// EventsProduced counts events delivered to the sink
	EventsProduced Counter = NoopStat{}

	// PollCycleSeconds measures poll cycle duration
	PollCycleSeconds Histogram = NoopStat{}

	// BlobSeconds measures per-blob processing time
	BlobSeconds Histogram = NoopStat{}

	// ActiveLeases tracks the number of currently held blob leases
	ActiveLeases Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	BlobsProcessed = NewCounter(
		"blobs_processed_total",
		"Blobs successfully processed",
	)
	BlobsFailed = NewCounter(
		"blobs_failed_total",
		"Blobs that ended a cycle marked failed",
	)
	BlobsSkipped = NewCounter(
		"blobs_skipped_total",
		"Claim attempts lost to another worker",
	)
	EventsProduced = NewCounter(
		"events_produced_total",
		"Events delivered to the sink",
	)
	PollCycleSeconds = NewHistogramWithBuckets(
		"poll_cycle_seconds",
		"Poll cycle duration in seconds",
		PollCycleBuckets,
	)
	BlobSeconds = NewHistogramWithBuckets(
		"blob_seconds",
		"Per-blob processing time in seconds",
		BlobBuckets,
	)
	ActiveLeases = NewGauge(
		"active_leases",
		"Number of currently held blob leases",
	)
}
