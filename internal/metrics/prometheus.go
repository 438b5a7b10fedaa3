package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campuspay"

var labelNames = []string{"type", LabelEndpoint, LabelMethod, LabelStatus}

type PrometheusRecorder struct {
	registry  *prometheus.Registry
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewPrometheusRecorder registers its collectors, plus Go runtime and process
// collectors, on a private registry served by Handler.
func NewPrometheusRecorder() *PrometheusRecorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "campuspay event counters",
		},
		labelNames,
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "campuspay operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		labelNames,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		counters,
		histogram,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &PrometheusRecorder{
		registry:  registry,
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(toPrometheusLabels(name, labels)).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(toPrometheusLabels(name, labels)).Observe(d.Seconds())
}

// Handler exposes the private registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func toPrometheusLabels(name string, labels map[string]string) prometheus.Labels {
	return prometheus.Labels{
		"type":        name,
		LabelEndpoint: labels[LabelEndpoint],
		LabelMethod:   labels[LabelMethod],
		LabelStatus:   labels[LabelStatus],
	}
}
