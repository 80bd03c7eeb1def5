package config

// Default values applied before validation. Field semantics and valid
// ranges are documented on the config types.
const (
	DefaultListenAddress = "0.0.0.0"
	DefaultForwardPort   = 3000
	DefaultAdminPort     = 9000

	// DefaultForwardConnectTimeout bounds reading client request headers.
	DefaultForwardConnectTimeout = 10 // seconds

	DefaultConnectTimeout = 10  // seconds
	DefaultRequestTimeout = 300 // seconds
	DefaultIdleTimeout    = 60  // seconds
	DefaultKeepAlive      = 60  // seconds

	DefaultBreakerThreshold = 0.5
	DefaultBreakerCooldown  = 30 // seconds

	DefaultRatePerSecond = 100
	DefaultRateBurst     = 1

	DefaultWeight = 1

	DefaultBalanceStrategy = "roundrobin"
)

// ApplyDefaults fills zero-valued optional fields in place.
func ApplyDefaults(cfg *Config) {
	for i := range cfg.HTTPServer.Forwards {
		f := &cfg.HTTPServer.Forwards[i]
		if f.Address == "" {
			f.Address = DefaultListenAddress
		}
		if f.Port == 0 {
			f.Port = DefaultForwardPort
		}
		if f.Timeout.Connect == 0 {
			f.Timeout.Connect = DefaultForwardConnectTimeout
		}
		if f.RateLimit != nil {
			if f.RateLimit.PerSecond == 0 {
				f.RateLimit.PerSecond = DefaultRatePerSecond
			}
			if f.RateLimit.Burst == 0 {
				f.RateLimit.Burst = DefaultRateBurst
			}
		}
	}

	admin := &cfg.HTTPServer.Admin
	if admin.Address == "" {
		admin.Address = DefaultListenAddress
	}
	if admin.Port == 0 {
		admin.Port = DefaultAdminPort
	}

	for i := range cfg.Upstreams {
		u := &cfg.Upstreams[i]
		if u.Auth != nil && u.Auth.Type == "" {
			u.Auth.Type = "none"
		}
		if u.Breaker != nil {
			if u.Breaker.Threshold == 0 {
				u.Breaker.Threshold = DefaultBreakerThreshold
			}
			if u.Breaker.Cooldown == 0 {
				u.Breaker.Cooldown = DefaultBreakerCooldown
			}
		}
		if u.RateLimit != nil {
			if u.RateLimit.PerSecond == 0 {
				u.RateLimit.PerSecond = DefaultRatePerSecond
			}
			if u.RateLimit.Burst == 0 {
				u.RateLimit.Burst = DefaultRateBurst
			}
		}
	}

	for i := range cfg.UpstreamGroups {
		g := &cfg.UpstreamGroups[i]
		if g.Balance.Strategy == "" {
			g.Balance.Strategy = DefaultBalanceStrategy
		}
		for j := range g.Upstreams {
			if g.Upstreams[j].Weight == 0 {
				g.Upstreams[j].Weight = DefaultWeight
			}
		}

		hc := &g.HTTPClient
		if hc.KeepAlive == nil {
			ka := DefaultKeepAlive
			hc.KeepAlive = &ka
		}
		if hc.Timeout.Connect == 0 {
			hc.Timeout.Connect = DefaultConnectTimeout
		}
		if hc.Timeout.Request == 0 {
			hc.Timeout.Request = DefaultRequestTimeout
		}
		if hc.Timeout.Idle == 0 {
			hc.Timeout.Idle = DefaultIdleTimeout
		}
	}
}
