package telemetry

import (
	"net/http"
	"strconv"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "txfeed"

var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// Vec types for labeled metrics
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat satisfies every metric interface and records nothing.
// All metric vars start as NoopStat so packages can record unconditionally.
type NoopStat struct{}

type noopCounterVec struct{}
type noopGaugeVec struct{}
type noopHistogramVec struct{}

func (noopCounterVec) With(...string) Counter     { return NoopStat{} }
func (noopGaugeVec) With(...string) Gauge         { return NoopStat{} }
func (noopHistogramVec) With(...string) Histogram { return NoopStat{} }

func (NoopStat) Observe(float64) {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Sub(float64)     {}

type counterVec struct{ vec *prometheus.CounterVec }
type gaugeVec struct{ vec *prometheus.GaugeVec }
type histogramVec struct{ vec *prometheus.HistogramVec }

func (c counterVec) With(labels ...string) Counter     { return c.vec.WithLabelValues(labels...) }
func (g gaugeVec) With(labels ...string) Gauge         { return g.vec.WithLabelValues(labels...) }
func (h histogramVec) With(labels ...string) Histogram { return h.vec.WithLabelValues(labels...) }

func constLabels() prometheus.Labels {
	return prometheus.Labels{"node_id": strconv.FormatUint(cfg.Config.NodeID, 10)}
}

func NewCounter(subsystem, name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	})
	registry.MustRegister(ret)
	return ret
}

func NewGauge(subsystem, name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	})
	registry.MustRegister(ret)
	return ret
}

func NewHistogram(subsystem, name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels(),
	})
	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(subsystem, name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels)
	registry.MustRegister(ret)
	return counterVec{vec: ret}
}

func NewGaugeVec(subsystem, name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopGaugeVec{}
	}
	ret := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels)
	registry.MustRegister(ret)
	return gaugeVec{vec: ret}
}

func NewHistogramVec(subsystem, name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec{}
	}
	ret := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels(),
	}, labels)
	registry.MustRegister(ret)
	return histogramVec{vec: ret}
}

// InitializeTelemetry creates the Prometheus registry when metrics are enabled.
// InitMetrics must be called afterwards to replace the no-op metric vars.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics
// Returns nil if Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
