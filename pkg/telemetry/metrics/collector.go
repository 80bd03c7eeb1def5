// Package metrics aggregates data-plane events into Prometheus metrics. The
// Collector implements the event sink the forwarding pipeline and circuit
// breakers emit into; nothing in the data plane touches a registry directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lumen-hq/lumen/pkg/events"
)

const (
	namespace = "lumen"

	resultSuccess = "success"
	resultFailure = "failure"
)

// requestDurationBuckets cover the latency profile of LLM backends: from
// sub-second cached completions to multi-minute generations.
var requestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0}

// Collector holds every metric family and implements events.Sink.
type Collector struct {
	registry *prometheus.Registry

	ingressRequests *prometheus.CounterVec
	ingressDuration *prometheus.HistogramVec
	ingressErrors   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec

	breakerTransitions *prometheus.CounterVec
	breakerCalls       *prometheus.CounterVec
}

// NewCollector creates and registers all metric families. If registry is
// nil a fresh one is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		ingressRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingress_requests_total",
				Help:      "Total client requests completed, by forward, method, path, and status.",
			},
			[]string{"forward", "method", "path", "status"},
		),

		ingressDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingress_request_duration_seconds",
				Help:      "Client request duration from receipt to final byte.",
				Buckets:   requestDurationBuckets,
			},
			[]string{"forward", "method", "path"},
		),

		ingressErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingress_errors_total",
				Help:      "Client requests that failed, by error kind.",
			},
			[]string{"forward", "method", "path", "kind"},
		),

		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_rejections_total",
				Help:      "Requests rejected by the per-IP rate limiter.",
			},
			[]string{"forward"},
		),

		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream dispatches that produced a response.",
			},
			[]string{"group", "upstream"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream time to response headers.",
				Buckets:   requestDurationBuckets,
			},
			[]string{"group", "upstream"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Upstream dispatches that failed, by error kind.",
			},
			[]string{"group", "upstream", "kind"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuitbreaker_state_changes_total",
				Help:      "Circuit breaker state transitions.",
			},
			[]string{"group", "upstream", "url", "from", "to"},
		),

		breakerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuitbreaker_calls_total",
				Help:      "Call outcomes recorded on circuit breakers.",
			},
			[]string{"group", "upstream", "url", "result"},
		),
	}

	registry.MustRegister(
		c.ingressRequests,
		c.ingressDuration,
		c.ingressErrors,
		c.rateLimited,
		c.upstreamRequests,
		c.upstreamDuration,
		c.upstreamErrors,
		c.breakerTransitions,
		c.breakerCalls,
	)

	return c
}

// Registry returns the backing Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// IngressRequest implements events.Sink.
func (c *Collector) IngressRequest(forward, method, path string, status int, duration time.Duration) {
	c.ingressRequests.WithLabelValues(forward, method, path, statusLabel(status)).Inc()
	c.ingressDuration.WithLabelValues(forward, method, path).Observe(duration.Seconds())
}

// IngressError implements events.Sink.
func (c *Collector) IngressError(forward, method, path, kind string) {
	c.ingressErrors.WithLabelValues(forward, method, path, kind).Inc()
}

// RateLimited implements events.Sink.
func (c *Collector) RateLimited(forward string) {
	c.rateLimited.WithLabelValues(forward).Inc()
}

// UpstreamRequest implements events.Sink.
func (c *Collector) UpstreamRequest(group, upstream string, duration time.Duration) {
	c.upstreamRequests.WithLabelValues(group, upstream).Inc()
	c.upstreamDuration.WithLabelValues(group, upstream).Observe(duration.Seconds())
}

// UpstreamError implements events.Sink.
func (c *Collector) UpstreamError(group, upstream, kind string) {
	c.upstreamErrors.WithLabelValues(group, upstream, kind).Inc()
}

// BreakerTransition implements events.Sink.
func (c *Collector) BreakerTransition(group, upstream, url, from, to string) {
	c.breakerTransitions.WithLabelValues(group, upstream, url, from, to).Inc()
}

// BreakerResult implements events.Sink.
func (c *Collector) BreakerResult(group, upstream, url string, success bool) {
	result := resultFailure
	if success {
		result = resultSuccess
	}
	c.breakerCalls.WithLabelValues(group, upstream, url, result).Inc()
}

var _ events.Sink = (*Collector)(nil)

// statusLabel buckets out-of-range status codes so the label stays bounded.
func statusLabel(status int) string {
	if status < 100 || status >= 600 {
		return "unknown"
	}
	return strconv.Itoa(status)
}
