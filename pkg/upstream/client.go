package upstream

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// RetryConfig bounds the pipeline's retry loop for one group.
type RetryConfig struct {
	// Attempts is the number of additional attempts after the first.
	Attempts int

	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt, capped at 30s.
	InitialBackoff time.Duration
}

// ClientConfig describes the outbound HTTP client shared by one group.
type ClientConfig struct {
	// UserAgent replaces the client's User-Agent header when non-empty.
	UserAgent string

	// KeepAlive is the TCP keepalive cadence. Zero disables keepalive.
	KeepAlive time.Duration

	// Stream selects the streaming timeout regime: the request timeout is
	// lifted once response headers arrive and Idle governs chunk gaps.
	Stream bool

	// Connect bounds the TCP dial (and TLS handshake).
	Connect time.Duration

	// Request bounds the total response when Stream is false, and the
	// header phase together with Connect.
	Request time.Duration

	// Idle evicts idle pooled connections, and bounds the gap between
	// body chunks in streaming mode.
	Idle time.Duration

	// Retry is optional; nil means a single attempt.
	Retry *RetryConfig

	// ProxyURL routes all outbound connections through an HTTP proxy.
	// Basic-auth credentials embedded in the URL are honoured.
	ProxyURL string
}

// NewClient builds the group's shared *http.Client from its configuration.
//
// The client carries no overall timeout: the forwarding pipeline applies the
// streaming or buffered deadline regime per request via the context.
func NewClient(cfg ClientConfig) (*http.Client, error) {
	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		// Zero disables TCP keepalive rather than using the dialer default.
		keepAlive = -1
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Connect,
		KeepAlive: keepAlive,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.Idle,
		TLSHandshakeTimeout: cfg.Connect,
		ForceAttemptHTTP2:   true,
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid outbound proxy url %q: %w", cfg.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Transport: transport}, nil
}
