package telemetry

import (
	"slices"
	"sync"
	"time"
)

// StatsProvider is implemented by models that expose size statistics
type StatsProvider interface {
	Symbol() string
	Stats() (entries, pending int)
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	mu        sync.Mutex
	providers []registration
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

type registration struct {
	kind     string
	provider StatsProvider
}

// Register adds a provider of the given model kind (tx, list) to the collection set.
// Only list providers report ListEntries.
func (mc *MetricsCollector) Register(kind string, p StatsProvider) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.providers = append(mc.providers, registration{kind: kind, provider: p})
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	mc.mu.Lock()
	providers := slices.Clone(mc.providers)
	mc.mu.Unlock()

	for _, r := range providers {
		symbol := r.provider.Symbol()
		entries, pending := r.provider.Stats()
		if r.kind == "list" {
			ListEntries.With(symbol).Set(float64(entries))
		}
		PendingEvents.With(r.kind, symbol).Set(float64(pending))
	}
}
