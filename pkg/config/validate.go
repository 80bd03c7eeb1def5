package config

import (
	"fmt"
	"net/url"
)

// Valid ranges. Out-of-range values fail startup rather than being
// clamped.
const (
	minPort, maxPort               = 1, 65535
	minWeight, maxWeight           = 1, 65535
	minPerSecond, maxPerSecond     = 1, 10000
	minBurst, maxBurst             = 1, 20000
	minThreshold, maxThreshold     = 0.01, 1.0
	minCooldown, maxCooldown       = 1, 3600 // seconds
	minKeepAlive, maxKeepAlive     = 5, 600  // seconds; 0 disables
	minConnect, maxConnect         = 1, 120  // seconds
	minRequest, maxRequest         = 1, 1200 // seconds
	minIdle, maxIdle               = 5, 1800 // seconds
	minAttempts, maxAttempts       = 1, 100
	minBackoffMS, maxBackoffMS     = 100, 10000
)

var validStrategies = map[string]bool{
	"roundrobin":          true,
	"weighted_roundrobin": true,
	"random":              true,
	"response_aware":      true,
	"failover":            true,
}

var validHeaderOps = map[string]bool{
	"insert":  true,
	"replace": true,
	"remove":  true,
}

// Validate checks ranges, uniqueness, and cross-references across the whole
// document. The first violation found is returned.
func Validate(cfg *Config) error {
	upstreams := make(map[string]bool)
	for i := range cfg.Upstreams {
		u := &cfg.Upstreams[i]
		if err := validateUpstream(u); err != nil {
			return err
		}
		if upstreams[u.Name] {
			return fmt.Errorf("duplicate upstream name %q", u.Name)
		}
		upstreams[u.Name] = true
	}

	groups := make(map[string]bool)
	for i := range cfg.UpstreamGroups {
		g := &cfg.UpstreamGroups[i]
		if err := validateGroup(g, upstreams); err != nil {
			return err
		}
		if groups[g.Name] {
			return fmt.Errorf("duplicate upstream group name %q", g.Name)
		}
		groups[g.Name] = true
	}

	forwards := make(map[string]bool)
	ports := make(map[string]string)
	for i := range cfg.HTTPServer.Forwards {
		f := &cfg.HTTPServer.Forwards[i]
		if err := validateForward(f, groups); err != nil {
			return err
		}
		if forwards[f.Name] {
			return fmt.Errorf("duplicate forward name %q", f.Name)
		}
		forwards[f.Name] = true

		bind := fmt.Sprintf("%s:%d", f.Address, f.Port)
		if other, ok := ports[bind]; ok {
			return fmt.Errorf("forward %q: bind address %s already used by forward %q", f.Name, bind, other)
		}
		ports[bind] = f.Name
	}

	admin := &cfg.HTTPServer.Admin
	if admin.Port < minPort || admin.Port > maxPort {
		return fmt.Errorf("admin: port %d out of range [%d, %d]", admin.Port, minPort, maxPort)
	}

	return nil
}

// ValidateUpstreamConfig checks a single upstream definition. The mutation
// API uses it to reject invalid create/update payloads with the same rules
// the startup validation applies.
func ValidateUpstreamConfig(u *UpstreamConfig) error {
	return validateUpstream(u)
}

// ValidateUpstreamRef checks one group membership entry's weight range.
func ValidateUpstreamRef(ref UpstreamRef) error {
	if ref.Name == "" {
		return fmt.Errorf("upstream reference: name is required")
	}
	if ref.Weight < minWeight || ref.Weight > maxWeight {
		return fmt.Errorf("upstream reference %q: weight %d out of range [%d, %d]", ref.Name, ref.Weight, minWeight, maxWeight)
	}
	return nil
}

func validateUpstream(u *UpstreamConfig) error {
	if u.Name == "" {
		return fmt.Errorf("upstream: name is required")
	}
	parsed, err := url.Parse(u.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("upstream %q: url %q must be an absolute URL", u.Name, u.URL)
	}

	if u.Auth != nil {
		switch u.Auth.Type {
		case "none":
		case "bearer":
			if u.Auth.Token == "" {
				return fmt.Errorf("upstream %q: bearer auth requires a token", u.Name)
			}
		case "basic":
			if u.Auth.Username == "" || u.Auth.Password == "" {
				return fmt.Errorf("upstream %q: basic auth requires username and password", u.Name)
			}
		default:
			return fmt.Errorf("upstream %q: unknown auth type %q", u.Name, u.Auth.Type)
		}
	}

	for _, h := range u.Headers {
		if !validHeaderOps[h.Op] {
			return fmt.Errorf("upstream %q: unknown header op %q", u.Name, h.Op)
		}
		if h.Key == "" {
			return fmt.Errorf("upstream %q: header op %q requires a key", u.Name, h.Op)
		}
		if h.Op != "remove" && h.Value == "" {
			return fmt.Errorf("upstream %q: header op %q on %q requires a value", u.Name, h.Op, h.Key)
		}
	}

	if b := u.Breaker; b != nil {
		if b.Threshold < minThreshold || b.Threshold > maxThreshold {
			return fmt.Errorf("upstream %q: breaker threshold %g out of range [%g, %g]", u.Name, b.Threshold, minThreshold, maxThreshold)
		}
		if b.Cooldown < minCooldown || b.Cooldown > maxCooldown {
			return fmt.Errorf("upstream %q: breaker cooldown %ds out of range [%d, %d]", u.Name, b.Cooldown, minCooldown, maxCooldown)
		}
	}

	if err := validateRateLimit(u.RateLimit, fmt.Sprintf("upstream %q", u.Name)); err != nil {
		return err
	}
	return nil
}

func validateGroup(g *UpstreamGroupConfig, upstreams map[string]bool) error {
	if g.Name == "" {
		return fmt.Errorf("upstream group: name is required")
	}
	if len(g.Upstreams) == 0 {
		return fmt.Errorf("upstream group %q: at least one upstream is required", g.Name)
	}

	seen := make(map[string]bool)
	for _, ref := range g.Upstreams {
		if !upstreams[ref.Name] {
			return fmt.Errorf("upstream group %q: unknown upstream %q", g.Name, ref.Name)
		}
		if seen[ref.Name] {
			return fmt.Errorf("upstream group %q: upstream %q listed twice", g.Name, ref.Name)
		}
		seen[ref.Name] = true
		if ref.Weight < minWeight || ref.Weight > maxWeight {
			return fmt.Errorf("upstream group %q: weight %d for %q out of range [%d, %d]", g.Name, ref.Weight, ref.Name, minWeight, maxWeight)
		}
	}

	if !validStrategies[g.Balance.Strategy] {
		return fmt.Errorf("upstream group %q: unknown balance strategy %q", g.Name, g.Balance.Strategy)
	}

	hc := &g.HTTPClient
	if hc.KeepAlive != nil {
		if ka := *hc.KeepAlive; ka != 0 && (ka < minKeepAlive || ka > maxKeepAlive) {
			return fmt.Errorf("upstream group %q: keepalive %ds must be 0 (disabled) or in [%d, %d]", g.Name, ka, minKeepAlive, maxKeepAlive)
		}
	}
	if hc.Timeout.Connect < minConnect || hc.Timeout.Connect > maxConnect {
		return fmt.Errorf("upstream group %q: connect timeout %ds out of range [%d, %d]", g.Name, hc.Timeout.Connect, minConnect, maxConnect)
	}
	if hc.Timeout.Request < minRequest || hc.Timeout.Request > maxRequest {
		return fmt.Errorf("upstream group %q: request timeout %ds out of range [%d, %d]", g.Name, hc.Timeout.Request, minRequest, maxRequest)
	}
	if hc.Timeout.Idle < minIdle || hc.Timeout.Idle > maxIdle {
		return fmt.Errorf("upstream group %q: idle timeout %ds out of range [%d, %d]", g.Name, hc.Timeout.Idle, minIdle, maxIdle)
	}

	if r := hc.Retry; r != nil {
		if r.Attempts < minAttempts || r.Attempts > maxAttempts {
			return fmt.Errorf("upstream group %q: retry attempts %d out of range [%d, %d]", g.Name, r.Attempts, minAttempts, maxAttempts)
		}
		if r.Initial < minBackoffMS || r.Initial > maxBackoffMS {
			return fmt.Errorf("upstream group %q: retry initial backoff %dms out of range [%d, %d]", g.Name, r.Initial, minBackoffMS, maxBackoffMS)
		}
	}

	if p := hc.Proxy; p != nil {
		parsed, err := url.Parse(p.URL)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("upstream group %q: proxy url %q must be an absolute URL", g.Name, p.URL)
		}
	}
	return nil
}

func validateForward(f *ForwardConfig, groups map[string]bool) error {
	if f.Name == "" {
		return fmt.Errorf("forward: name is required")
	}
	if f.Port < minPort || f.Port > maxPort {
		return fmt.Errorf("forward %q: port %d out of range [%d, %d]", f.Name, f.Port, minPort, maxPort)
	}
	if f.DefaultGroup == "" {
		return fmt.Errorf("forward %q: default_group is required", f.Name)
	}
	if !groups[f.DefaultGroup] {
		return fmt.Errorf("forward %q: unknown default group %q", f.Name, f.DefaultGroup)
	}

	for _, rule := range f.Routing {
		if rule.Path == "" {
			return fmt.Errorf("forward %q: routing rule with empty path", f.Name)
		}
		if !groups[rule.TargetGroup] {
			return fmt.Errorf("forward %q: routing rule %q targets unknown group %q", f.Name, rule.Path, rule.TargetGroup)
		}
	}

	if err := validateRateLimit(f.RateLimit, fmt.Sprintf("forward %q", f.Name)); err != nil {
		return err
	}
	return nil
}

func validateRateLimit(rl *RateLimitConfig, scope string) error {
	if rl == nil {
		return nil
	}
	if rl.PerSecond < minPerSecond || rl.PerSecond > maxPerSecond {
		return fmt.Errorf("%s: ratelimit per_second %d out of range [%d, %d]", scope, rl.PerSecond, minPerSecond, maxPerSecond)
	}
	if rl.Burst < minBurst || rl.Burst > maxBurst {
		return fmt.Errorf("%s: ratelimit burst %d out of range [%d, %d]", scope, rl.Burst, minBurst, maxBurst)
	}
	return nil
}
