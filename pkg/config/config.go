// Package config defines the YAML configuration model for lumen and its
// loading pipeline: decode strictly, apply defaults, validate ranges and
// cross-references. Unknown fields, out-of-range values, duplicate names,
// and dangling references all fail startup.
package config

// Config is the root of the configuration document. Three top-level keys:
// the HTTP server (forward listeners plus the admin endpoint), the upstream
// definitions, and the upstream groups.
type Config struct {
	HTTPServer     HTTPServerConfig      `yaml:"http_server"`
	Upstreams      []UpstreamConfig      `yaml:"upstreams"`
	UpstreamGroups []UpstreamGroupConfig `yaml:"upstream_groups"`
}

// HTTPServerConfig holds the ingress listeners and the admin block.
type HTTPServerConfig struct {
	Forwards []ForwardConfig `yaml:"forwards"`
	Admin    AdminConfig     `yaml:"admin"`
}

// ForwardConfig describes one ingress listener.
type ForwardConfig struct {
	Name string `yaml:"name"`

	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// DefaultGroup receives requests that match no routing rule.
	DefaultGroup string `yaml:"default_group"`

	// Routing is an ordered list of path-pattern rules; declaration order
	// breaks precedence ties.
	Routing []RoutingRule `yaml:"routing"`

	// RateLimit applies per client IP when present.
	RateLimit *RateLimitConfig `yaml:"ratelimit"`

	Timeout ForwardTimeoutConfig `yaml:"timeout"`
}

// ForwardTimeoutConfig bounds the client side of a forward.
type ForwardTimeoutConfig struct {
	// Connect is the client connect (header read) timeout in seconds.
	Connect int `yaml:"connect"`
}

// RoutingRule maps a path pattern to a target group.
type RoutingRule struct {
	Path        string `yaml:"path"`
	TargetGroup string `yaml:"target_group"`
}

// AdminConfig describes the admin listener (health, metrics, management API).
type AdminConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

/// RateLimitConfig is a token bucket: per_second refill, burst capacity.
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second"`
	Burst     int `yaml:"burst"`
}

// UpstreamConfig describes one backend endpoint.
type UpstreamConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`

	Auth    *AuthConfig       `yaml:"auth"`
	Headers []HeaderOperation `yaml:"headers"`
	Breaker *BreakerConfig    `yaml:"breaker"`

	RateLimit *RateLimitConfig `yaml:"ratelimit"`
}

// AuthConfig selects the authentication injected into forwarded requests:
// none, bearer (token), or basic (username+password).
type AuthConfig struct {
	Type     string `yaml:"type"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HeaderOperation is an ordered header rewrite: insert only adds when
// absent, replace sets unconditionally, remove deletes all occurrences.
type HeaderOperation struct {
	Op    string `yaml:"op"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// BreakerConfig overrides the default circuit breaker parameters.
type BreakerConfig struct {
	// Threshold is the failure rate in [0.01, 1.0] that trips the breaker.
	Threshold float64 `yaml:"threshold"`

	// Cooldown in seconds, within [1, 3600].
	Cooldown int `yaml:"cooldown"`
}

// UpstreamGroupConfig describes a named, ordered collection of upstreams
// sharing a balance strategy and an HTTP client configuration.
type UpstreamGroupConfig struct {
	Name       string           `yaml:"name"`
	Upstreams  []UpstreamRef    `yaml:"upstreams"`
	Balance    BalanceConfig    `yaml:"balance"`
	HTTPClient HTTPClientConfig `yaml:"http_client"`
}

// UpstreamRef is one group member: an upstream name and its weight (used
// only by weighted round-robin).
type UpstreamRef struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

// BalanceConfig selects the group's strategy tag.
type BalanceConfig struct {
	Strategy string `yaml:"strategy"`
}

// HTTPClientConfig configures the group's shared outbound client.
type HTTPClientConfig struct {
	// Agent overrides the User-Agent header on forwarded requests.
	Agent string `yaml:"agent"`

	// KeepAlive is the TCP keepalive cadence in seconds. An explicit 0
	// disables keepalive; any other value must lie in [5, 600]. Omitted
	// means the default cadence.
	KeepAlive *int `yaml:"keepalive"`

	// Stream toggles the streaming timeout regime. Defaults to true.
	Stream *bool `yaml:"stream"`

	Timeout ClientTimeoutConfig `yaml:"timeout"`

	Retry *RetryConfig `yaml:"retry"`

	Proxy *ProxyConfig `yaml:"proxy"`
}

// ClientTimeoutConfig holds the outbound timeouts in seconds.
type ClientTimeoutConfig struct {
	Connect int `yaml:"connect"`
	Request int `yaml:"request"`
	Idle    int `yaml:"idle"`
}

// RetryConfig bounds the forwarding retry loop.
type RetryConfig struct {
	// Attempts in [1, 100]: additional attempts after the first.
	Attempts int `yaml:"attempts"`

	// Initial backoff in milliseconds, within [100, 10000]; doubled per
	// attempt and capped at 30s by the pipeline.
	Initial int `yaml:"initial"`
}

// ProxyConfig routes the group's outbound connections through a proxy.
type ProxyConfig struct {
	URL string `yaml:"url"`
}

// StreamEnabled resolves the stream flag with its default of true.
func (c *HTTPClientConfig) StreamEnabled() bool {
	if c.Stream == nil {
		return true
	}
	return *c.Stream
}
