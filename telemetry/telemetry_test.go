package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetricsBeforeInit(t *testing.T) {
	// Recording on defaults must never panic
	TransactionsTotal.With("snapshot").Inc()
	ListEntries.With("AAPL").Set(10)
	BatchDurationSeconds.With("tx").Observe(0.1)
	ListenerFailuresTotal.Add(2)
	DispatchQueueDepth.Dec()
}

type fakeProvider struct {
	symbol string
	calls  atomic.Int32
}

func (f *fakeProvider) Symbol() string { return f.symbol }

func (f *fakeProvider) Stats() (int, int) {
	f.calls.Add(1)
	return 3, 1
}

type gaugeRecorder struct {
	mu     sync.Mutex
	values map[string]float64
}

type recordedGauge struct {
	NoopStat
	rec *gaugeRecorder
	key string
}

func (g recordedGauge) Set(v float64) {
	g.rec.mu.Lock()
	defer g.rec.mu.Unlock()
	g.rec.values[g.key] = v
}

func (r *gaugeRecorder) With(labels ...string) Gauge {
	return recordedGauge{rec: r, key: strings.Join(labels, "/")}
}

func (r *gaugeRecorder) get() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func TestMetricsCollectorPolls(t *testing.T) {
	p := &fakeProvider{symbol: "IBM"}
	mc := NewMetricsCollector(5 * time.Millisecond)
	mc.Register("list", p)
	mc.Start()

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	mc.Stop()
}

func TestMetricsCollectorSeparatesModelKinds(t *testing.T) {
	savedEntries, savedPending := ListEntries, PendingEvents
	defer func() { ListEntries, PendingEvents = savedEntries, savedPending }()

	entries := &gaugeRecorder{values: map[string]float64{}}
	pending := &gaugeRecorder{values: map[string]float64{}}
	ListEntries, PendingEvents = entries, pending

	mc := NewMetricsCollector(time.Hour)
	mc.Register("tx", &fakeProvider{symbol: "IBM"})
	mc.Register("list", &fakeProvider{symbol: "IBM"})
	mc.collect()

	assert.Equal(t, map[string]float64{"IBM": 3}, entries.get(), "tx models report no entries")
	assert.Equal(t, map[string]float64{"tx/IBM": 1, "list/IBM": 1}, pending.get())
}

func TestMetricsHandlerServesRegisteredMetrics(t *testing.T) {
	saved := registry
	defer func() { registry = saved }()

	assert.Nil(t, GetMetricsHandler(), "no handler before initialization")

	registry = nil
	InitializeTelemetry()
	require.NotNil(t, registry)
	InitMetrics()

	TransactionsTotal.With("snapshot").Inc()

	rec := httptest.NewRecorder()
	GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `txfeed_model_transactions_total`)
	assert.Contains(t, string(body), `type="snapshot"`)
}
