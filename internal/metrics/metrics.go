// Package metrics exposes Prometheus collectors for the site generator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Render statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Output results.
const (
	OutputWritten = "written"
	OutputSkipped = "skipped"
	OutputFailed  = "failed"
)

var (
	rendersTotal               *prometheus.CounterVec
	outputsTotal               *prometheus.CounterVec
	passDurationSeconds        *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegen_renders_total",
				Help: "Total number of render function invocations, labeled by status.",
			},
			[]string{"status"},
		)

		outputsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegen_outputs_total",
				Help: "Total number of rendered documents, labeled by what happened to their slot.",
			},
			[]string{"result"},
		)

		passDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitegen_pass_duration_seconds",
				Help:    "Histogram of compilation pass durations, labeled by pass status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegen_http_requests_total",
				Help: "Total number of preview HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitegen_http_request_duration_seconds",
				Help:    "Histogram of preview HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRender counts one render invocation.
func ObserveRender(status string) {
	Init()
	rendersTotal.WithLabelValues(status).Inc()
}

// ObserveOutput counts one rendered document by slot outcome.
func ObserveOutput(result string) {
	Init()
	outputsTotal.WithLabelValues(result).Inc()
}

// ObservePass records the duration of a finished pass.
func ObservePass(status string, duration time.Duration) {
	Init()
	passDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
