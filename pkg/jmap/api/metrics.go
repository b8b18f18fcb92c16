package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects per-method JMAP counters on a private registry so
// several servers can coexist in one process.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	calls     *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewMetrics creates the metric set and its registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jmapd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "JMAP HTTP requests by response status.",
		}, []string{"status"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jmapd",
			Subsystem: "engine",
			Name:      "method_calls_total",
			Help:      "Dispatched method calls by method name.",
		}, []string{"method"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jmapd",
			Subsystem: "engine",
			Name:      "method_duration_seconds",
			Help:      "Method call duration by method name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.calls,
		m.durations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(status int) {
	m.requests.WithLabelValues(httpStatusClass(status)).Inc()
}

func (m *Metrics) observeCalls(info map[string][]time.Duration) {
	for method, durations := range info {
		m.calls.WithLabelValues(method).Add(float64(len(durations)))
		for _, d := range durations {
			m.durations.WithLabelValues(method).Observe(d.Seconds())
		}
	}
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
