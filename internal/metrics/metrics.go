package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes, one per terminal state of the gateway.
const (
	OutcomePreflight   = "preflight"
	OutcomeDocs        = "docs"
	OutcomeNotFound    = "not_found"
	OutcomeAuthDenied  = "auth_denied"
	OutcomeAuthError   = "auth_error"
	OutcomeForwarded   = "forwarded"
	OutcomeBackendFail = "backend_error"
)

// Authorization check results.
const (
	AuthAllowed = "allowed"
	AuthDenied  = "denied"
	AuthError   = "error"
)

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Collector tracks gateway metrics for Prometheus export. Each collector
// owns its registry, so several can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
	authChecks       *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apigw_requests_total",
			Help: "Total number of requests by terminal outcome and status code",
		}, []string{"outcome", "code"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apigw_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: DefaultBuckets,
		}, []string{"outcome"}),
		authChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apigw_auth_checks_total",
			Help: "Authorization checks by result",
		}, []string{"result"}),
	}
	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDurations,
		c.authChecks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RecordRequest records a request that reached a terminal state
func (c *Collector) RecordRequest(outcome string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(outcome, strconv.Itoa(statusCode)).Inc()
	c.requestDurations.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAuthCheck records one authorization check
func (c *Collector) RecordAuthCheck(result string) {
	c.authChecks.WithLabelValues(result).Inc()
}

// RegisterLogBus exports the log bus delivery counters.
func (c *Collector) RegisterLogBus(published, dropped func() int64) {
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "apigw_log_bus_published_total",
			Help: "Log entries delivered to the event bus",
		}, func() float64 { return float64(published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "apigw_log_bus_dropped_total",
			Help: "Log entries dropped by the event bus",
		}, func() float64 { return float64(dropped()) }),
	)
}

// Handler serves the metrics in Prometheus text exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
