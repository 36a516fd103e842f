package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/hlc"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the publisher registry
type RegistryConfig struct {
	DataDir     string                  // Journal location
	NodeID      uint64                  // Stamped on every record
	SinkConfigs []cfg.SinkConfiguration // From config
}

// Registry owns the journal and one worker per sink
type Registry struct {
	journal *Journal
	clock   *hlc.Clock
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry opens the journal and creates workers for all configured sinks
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	journal, err := OpenJournal(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	registry := &Registry{
		journal: journal,
		clock:   hlc.NewClock(config.NodeID),
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			journal.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Uint64("last_seq", journal.LastSeq()).
		Msg("Publisher registry initialized")

	return registry, nil
}

// AddSink creates a worker for the given sink configuration.
// Workers added while the registry runs start immediately.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		if w.Name() == config.Name {
			return fmt.Errorf("sink %q already registered", config.Name)
		}
	}

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	trans, err := createTransformer(config)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterSymbols, config.FilterSources)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Journal:         r.journal,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added transaction sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)

	log.Info().Int("workers", len(r.workers)).Msg("Publisher registry started")
	return nil
}

// Stop stops all workers and closes the journal
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	for _, worker := range r.workers {
		worker.Stop()
	}

	if err := r.journal.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close journal")
	}

	log.Info().Msg("Publisher registry stopped")
}

// Append journals records. Called from the transaction listener.
func (r *Registry) Append(records []TxRecord) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}
	return r.journal.Append(records)
}

// Cursors returns the persisted cursor of every sink
func (r *Registry) Cursors() map[string]uint64 {
	return r.journal.Cursors()
}

// LastSeq returns the newest journaled sequence number
func (r *Registry) LastSeq() uint64 {
	return r.journal.LastSeq()
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer for a sink
type TransformerFactory func(cfg.SinkConfiguration) Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer based on the sink format
func createTransformer(config cfg.SinkConfiguration) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[config.Format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", config.Format)
	}

	return factory(config), nil
}
