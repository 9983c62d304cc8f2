// Package observability holds the Prometheus instruments of the toolkit.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the toolkit.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CapturedLines   *prometheus.CounterVec
	ToolFailures    *prometheus.CounterVec
	ServerStartup   prometheus.Histogram
	Jobs            *prometheus.CounterVec
}

// NewMetrics registers the instruments on a private registry so several
// sessions (and tests) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched server requests by path and outcome.",
		}, []string{"path", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Wall time of dispatched server requests.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"path"}),
		CapturedLines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_lines_total",
			Help:      "Server output lines captured during requests by stream.",
		}, []string{"stream"}),
		ToolFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_failures_total",
			Help:      "Tool calls classified as failed, by tool and kind.",
		}, []string{"tool", "kind"}),
		ServerStartup: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_startup_seconds",
			Help:      "Time from spawning the server to its readiness marker.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Worker jobs by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
}

// ObserveRequest records one dispatched request.
func (m *Metrics) ObserveRequest(path, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.Requests.WithLabelValues(path, outcome).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(d.Seconds())
}

// AddCapturedLines records lines captured from one stream.
func (m *Metrics) AddCapturedLines(stream string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.CapturedLines.WithLabelValues(stream).Add(float64(n))
}

// IncToolFailure records a tool call classified as failed.
func (m *Metrics) IncToolFailure(tool, kind string) {
	if m == nil {
		return
	}

	m.ToolFailures.WithLabelValues(tool, kind).Inc()
}

// ObserveStartup records how long the server took to become ready.
func (m *Metrics) ObserveStartup(d time.Duration) {
	if m == nil {
		return
	}

	m.ServerStartup.Observe(d.Seconds())
}

// IncJob records one processed worker job.
func (m *Metrics) IncJob(operation, outcome string) {
	if m == nil {
		return
	}

	m.Jobs.WithLabelValues(operation, outcome).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics of this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
