// Package events defines the seam between the data plane and the metrics
// collector. The forwarding pipeline, rate limiter, and circuit breakers emit
// typed events through a Sink; the telemetry layer aggregates them. The core
// never touches a metrics registry directly.
package events

import "time"

// Breaker state labels as they appear on emitted events.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Error kind labels attached to ingress and upstream error events.
const (
	KindConnectFailed     = "connect_failed"
	KindRequestTimeout    = "request_timeout"
	KindUpstreamError     = "upstream_error"
	KindStreamAborted     = "stream_aborted"
	KindNoHealthyUpstream = "no_healthy_upstream"
	KindRateLimited       = "rate_limited"
)

// Sink receives events emitted by the forwarding data plane.
//
// Implementations must be safe for concurrent use; every event is emitted
// from a request-handling goroutine. Implementations should be cheap: the
// sink sits on the hot path.
type Sink interface {
	// IngressRequest is emitted once per completed client request.
	IngressRequest(forward, method, path string, status int, duration time.Duration)

	// IngressError is emitted when a client request fails before or during
	// forwarding. kind is one of the Kind* labels.
	IngressError(forward, method, path, kind string)

	// RateLimited is emitted when a client request is rejected by the
	// per-IP rate limiter.
	RateLimited(forward string)

	// UpstreamRequest is emitted once per completed upstream dispatch.
	UpstreamRequest(group, upstream string, duration time.Duration)

	// UpstreamError is emitted when an upstream dispatch fails.
	UpstreamError(group, upstream, kind string)

	// BreakerTransition is emitted on every circuit breaker state change.
	BreakerTransition(group, upstream, url, from, to string)

	// BreakerResult is emitted for every call outcome recorded on a breaker.
	BreakerResult(group, upstream, url string, success bool)
}

// NopSink discards all events. Useful as a default and in tests.
type NopSink struct{}

func (NopSink) IngressRequest(string, string, string, int, time.Duration) {}
func (NopSink) IngressError(string, string, string, string)               {}
func (NopSink) RateLimited(string)                                        {}
func (NopSink) UpstreamRequest(string, string, time.Duration)             {}
func (NopSink) UpstreamError(string, string, string)                      {}
func (NopSink) BreakerTransition(string, string, string, string, string)  {}
func (NopSink) BreakerResult(string, string, string, bool)                {}

var _ Sink = NopSink{}
