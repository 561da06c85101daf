package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/cfg"
)

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
	SetToCurrentTime()
}

type NoopStat struct{}

func (n NoopStat) Observe(float64) {}

func (n NoopStat) Set(float64) {}

func (n NoopStat) Dec() {}

func (n NoopStat) Sub(float64) {}

func (n NoopStat) SetToCurrentTime() {}

func (n NoopStat) Inc() {}

func (n NoopStat) Add(float64) {}

func NewCounter(name string, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tidewater",
		Name:      name,
		Help:      help,
		ConstLabels: map[string]string{
			"processor": cfg.Config.ProcessorID,
		},
	})

	registry.MustRegister(ret)
	return ret
}

func NewGauge(name string, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tidewater",
		Name:      name,
		Help:      help,
		ConstLabels: map[string]string{
			"processor": cfg.Config.ProcessorID,
		},
	})

	registry.MustRegister(ret)
	return ret
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tidewater",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
		ConstLabels: map[string]string{
			"processor": cfg.Config.ProcessorID,
		},
	})

	registry.MustRegister(ret)
	return ret
}

// InitializeTelemetry sets up the Prometheus registry when the admin
// endpoint is enabled. Metrics created before this call stay no-ops.
func InitializeTelemetry() {
	if !cfg.Config.Admin.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - served on the admin port at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics.
// Returns nil if telemetry is not enabled.
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
