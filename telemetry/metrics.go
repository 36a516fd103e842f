package telemetry

// Histogram bucket definitions
var (
	// BatchBuckets for in-memory batch processing (scan + apply + notify)
	BatchBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	// BatchSizeBuckets for number of events per delivered batch
	BatchSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	// PublishBuckets for sink publish latency (network)
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Model metrics
var (
	// EventsReceivedTotal counts raw events handed to models by model kind (tx, list)
	EventsReceivedTotal CounterVec = noopCounterVec{}

	// BatchSizeEvents measures events per processed batch
	BatchSizeEvents Histogram = NoopStat{}

	// BatchDurationSeconds measures batch processing time by model kind
	BatchDurationSeconds HistogramVec = noopHistogramVec{}

	// TransactionsTotal counts completed transactions by type (snapshot, update)
	TransactionsTotal CounterVec = noopCounterVec{}

	// ListenerFailuresTotal counts failed or panicked listener deliveries
	ListenerFailuresTotal Counter = NoopStat{}

	// DispatchQueueDepth tracks notifications waiting for delivery
	DispatchQueueDepth Gauge = NoopStat{}

	// ListEntries tracks materialized list size by symbol
	ListEntries GaugeVec = noopGaugeVec{}

	// PendingEvents tracks buffered (not yet committed) events by model kind and symbol
	PendingEvents GaugeVec = noopGaugeVec{}

	// EvictionsTotal counts entries evicted by the size limit
	EvictionsTotal Counter = NoopStat{}
)

// Feed metrics
var (
	// FeedDeliveriesTotal counts batches delivered to subscriptions
	FeedDeliveriesTotal Counter = NoopStat{}

	// FeedSubscriptions tracks attached subscriptions
	FeedSubscriptions Gauge = NoopStat{}

	// SourceMessagesTotal counts inbound messages by source and result (ok, decode_error)
	SourceMessagesTotal CounterVec = noopCounterVec{}
)

// Publisher metrics
var (
	// JournalRecordsTotal counts transaction records appended to the journal
	JournalRecordsTotal Counter = NoopStat{}

	// PublishedRecordsTotal counts records published by sink and result
	PublishedRecordsTotal CounterVec = noopCounterVec{}

	// PublishDurationSeconds measures sink publish latency by sink
	PublishDurationSeconds HistogramVec = noopHistogramVec{}

	// PublishRetriesTotal counts publish retries by sink
	PublishRetriesTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsReceivedTotal = NewCounterVec("model", "events_received_total",
		"Raw events handed to models", []string{"model"})
	BatchSizeEvents = NewHistogram("model", "batch_size_events",
		"Events per processed batch", BatchSizeBuckets)
	BatchDurationSeconds = NewHistogramVec("model", "batch_duration_seconds",
		"Batch processing duration in seconds", []string{"model"}, BatchBuckets)
	TransactionsTotal = NewCounterVec("model", "transactions_total",
		"Completed transactions by type", []string{"type"})
	ListenerFailuresTotal = NewCounter("model", "listener_failures_total",
		"Listener deliveries that returned an error or panicked")
	DispatchQueueDepth = NewGauge("model", "dispatch_queue_depth",
		"Notifications waiting for delivery")
	ListEntries = NewGaugeVec("model", "list_entries",
		"Materialized list size", []string{"symbol"})
	PendingEvents = NewGaugeVec("model", "pending_events",
		"Events buffered while a snapshot or transaction is incomplete", []string{"model", "symbol"})
	EvictionsTotal = NewCounter("model", "evictions_total",
		"Entries evicted by the size limit")

	FeedDeliveriesTotal = NewCounter("feed", "deliveries_total",
		"Batches delivered to subscriptions")
	FeedSubscriptions = NewGauge("feed", "subscriptions",
		"Attached subscriptions")
	SourceMessagesTotal = NewCounterVec("feed", "source_messages_total",
		"Inbound messages by source and result", []string{"source", "result"})

	JournalRecordsTotal = NewCounter("publisher", "journal_records_total",
		"Transaction records appended to the journal")
	PublishedRecordsTotal = NewCounterVec("publisher", "published_records_total",
		"Records published by sink and result", []string{"sink", "result"})
	PublishDurationSeconds = NewHistogramVec("publisher", "publish_duration_seconds",
		"Sink publish latency in seconds", []string{"sink"}, PublishBuckets)
	PublishRetriesTotal = NewCounterVec("publisher", "publish_retries_total",
		"Publish retries by sink", []string{"sink"})
}
