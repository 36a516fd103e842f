package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default batch size for reading records per poll cycle
	DefaultBatchSize = 100
	// Default interval between poll cycles
	DefaultPollInterval = 100 * time.Millisecond
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a publish operation
	DefaultMaxRetries = 100
)

var errWorkerStopped = fmt.Errorf("worker stopped during retry")

// WorkerConfig configures a publisher worker
type WorkerConfig struct {
	Name            string        // Sink name (for cursor tracking)
	Journal         *Journal      // Journal to read from
	Sink            Sink          // Destination sink
	Transformer     Transformer   // Record encoder
	Filter          Filter        // Record filter
	TopicPrefix     string        // Topic prefix (e.g., "txfeed")
	BatchSize       int           // Records per poll cycle
	PollInterval    time.Duration // Poll interval
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts
}

// Worker tails the journal and publishes records to a sink
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker creates a new publisher worker positioned at the sink's cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Journal == nil {
		return nil, fmt.Errorf("journal is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Journal.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	// New sinks start at the oldest record still in the journal
	if cursor == 0 {
		records, err := config.Journal.ReadFrom(0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest record: %w", err)
		}
		if len(records) > 0 {
			cursor = records[0].SeqNum - 1
		}
	}

	w := &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.cursor.Store(cursor)
	return w, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Cursor returns the sequence number of the last handled record
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor.Load()).
		Msg("Starting publisher worker")

	go w.pollLoop()
}

// Stop stops the worker gracefully and closes its sink
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	if err := w.config.Sink.Close(); err != nil {
		log.Warn().Err(err).Str("worker", w.config.Name).Msg("Failed to close sink")
	}

	log.Info().Str("worker", w.config.Name).Msg("Publisher worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		records, err := w.config.Journal.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("cursor", w.cursor.Load()).
				Msg("Failed to read from journal")
			w.sleep(w.config.PollInterval)
			continue
		}

		if len(records) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, record := range records {
			if err := w.processRecord(record); err != nil {
				if err == errWorkerStopped {
					return
				}
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Uint64("seq", record.SeqNum).
					Msg("Failed to publish record, will retry on next poll")
				w.sleep(w.config.PollInterval)
				break
			}
			w.cursor.Store(record.SeqNum)
		}
	}
}

// processRecord publishes one record.
// Delivery is at-least-once: the cursor advances only after a successful
// publish, filtered records advance it without publishing.
func (w *Worker) processRecord(record TxRecord) error {
	if !w.config.Filter.Match(record.Symbol, record.SourceID) {
		w.advance(record.SeqNum)
		return nil
	}

	data, err := w.config.Transformer.Transform(record)
	if err != nil {
		// Undecodable records would block the sink forever
		log.Error().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", record.SeqNum).
			Msg("Failed to transform record, skipping")
		telemetry.PublishedRecordsTotal.With(w.config.Name, "transform_error").Inc()
		w.advance(record.SeqNum)
		return nil
	}

	if err := w.publishWithRetry(w.buildTopic(record.Symbol), record.Key(), data); err != nil {
		if err != errWorkerStopped {
			telemetry.PublishedRecordsTotal.With(w.config.Name, "error").Inc()
		}
		return err
	}

	telemetry.PublishedRecordsTotal.With(w.config.Name, "ok").Inc()
	w.advance(record.SeqNum)
	return nil
}

func (w *Worker) advance(seq uint64) {
	if err := w.config.Journal.AdvanceCursor(w.config.Name, seq); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", seq).
			Msg("Failed to advance cursor - record may be redelivered")
	}
}

func (w *Worker) buildTopic(symbol string) string {
	if w.config.TopicPrefix == "" {
		return symbol
	}
	return w.config.TopicPrefix + "." + symbol
}

// publishWithRetry publishes data with exponential backoff retry.
// Returns an error if retries are exhausted or the worker stopped.
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		start := time.Now()
		err := w.config.Sink.Publish(topic, key, data)
		telemetry.PublishDurationSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish record, retrying")
		telemetry.PublishRetriesTotal.With(w.config.Name).Inc()

		if !w.sleep(delay) {
			return errWorkerStopped
		}

		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep returns false if the worker was stopped before d elapsed
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
