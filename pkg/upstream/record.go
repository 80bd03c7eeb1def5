// Package upstream holds the runtime representation of a single backend
// endpoint: its immutable record (URL, auth, header operations, breaker
// parameters), its lock-free health state, and its circuit breaker.
package upstream

import (
	"fmt"
	"net/url"
	"time"
)

// AuthType identifies the authentication scheme injected into forwarded
// requests.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

// AuthConfig describes how to authenticate against the upstream.
type AuthConfig struct {
	Type     AuthType
	Token    string
	Username string
	Password string
}

// HeaderOp is one of insert, replace, remove.
type HeaderOp string

const (
	HeaderInsert  HeaderOp = "insert"
	HeaderReplace HeaderOp = "replace"
	HeaderRemove  HeaderOp = "remove"
)

// HeaderOperation is a single header rewrite applied to forwarded requests.
// Operations are applied in declared order.
type HeaderOperation struct {
	Op    HeaderOp
	Key   string
	Value string
}

// BreakerConfig holds the per-upstream circuit breaker parameters.
type BreakerConfig struct {
	// Threshold is the failure rate in (0, 1] that trips the breaker.
	Threshold float64

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker parameters used when an upstream
// does not configure its own.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 0.5, Cooldown: 30 * time.Second}
}

// RateLimitConfig is an optional per-upstream token bucket.
type RateLimitConfig struct {
	PerSecond int
	Burst     int
}

// Record is the immutable description of one backend endpoint. A Record is
// never modified after construction: updates build a new Record and swap it
// into the owning Upstream atomically. Requests that already captured a
// Record keep using it until they complete.
type Record struct {
	Name      string
	URL       *url.URL
	Auth      AuthConfig
	Headers   []HeaderOperation
	Breaker   BreakerConfig
	RateLimit *RateLimitConfig
}

// NewRecord builds a Record, parsing and validating the target URL.
func NewRecord(name, rawURL string, auth AuthConfig, headers []HeaderOperation, breaker BreakerConfig, rl *RateLimitConfig) (*Record, error) {
	if name == "" {
		return nil, fmt.Errorf("upstream name must not be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: invalid url %q: %w", name, rawURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("upstream %q: url %q must be absolute", name, rawURL)
	}
	if auth.Type == "" {
		auth.Type = AuthNone
	}
	return &Record{
		Name:      name,
		URL:       u,
		Auth:      auth,
		Headers:   headers,
		Breaker:   breaker,
		RateLimit: rl,
	}, nil
}
