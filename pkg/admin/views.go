package admin

import (
	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/manager"
	"lumen-hq/lumen/pkg/upstream"
)

// UpstreamView is the read representation of an upstream. Credentials are
// never echoed back; only the auth scheme is reported.
type UpstreamView struct {
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	AuthType string         `json:"auth_type"`
	Breaker  BreakerView    `json:"breaker"`
	Health   HealthView     `json:"health"`
	Headers  []HeaderOpView `json:"headers,omitempty"`
}

// BreakerView reports the breaker's parameters and live state.
type BreakerView struct {
	State           string  `json:"state"`
	Threshold       float64 `json:"threshold"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

// HealthView reports the rolling statistics the balancer sees.
type HealthView struct {
	EWMALatencyMS float64 `json:"ewma_latency_ms"`
	InFlight      int64   `json:"in_flight"`
	SuccessRate   float64 `json:"success_rate"`
}

// HeaderOpView is one configured header rewrite.
type HeaderOpView struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// GroupView is the read representation of an upstream group.
type GroupView struct {
	Name      string       `json:"name"`
	Strategy  string       `json:"strategy"`
	Upstreams []MemberView `json:"upstreams"`
}

// MemberView is one group member with its weight.
type MemberView struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// ForwardView is the read representation of one ingress listener.
type ForwardView struct {
	Name         string      `json:"name"`
	Address      string      `json:"address"`
	Port         int         `json:"port"`
	DefaultGroup string      `json:"default_group"`
	Routing      []RouteView `json:"routing,omitempty"`
}

// RouteView is one routing rule.
type RouteView struct {
	Path        string `json:"path"`
	TargetGroup string `json:"target_group"`
}

// UpstreamPayload is the write representation accepted by create and update.
type UpstreamPayload struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Auth    *AuthPayload      `json:"auth,omitempty"`
	Headers []HeaderOpView    `json:"headers,omitempty"`
	Breaker *BreakerPayload   `json:"breaker,omitempty"`
	Rate    *RateLimitPayload `json:"ratelimit,omitempty"`
}

// AuthPayload carries credentials on write.
type AuthPayload struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// BreakerPayload overrides breaker parameters on write.
type BreakerPayload struct {
	Threshold float64 `json:"threshold"`
	Cooldown  int     `json:"cooldown"`
}

// RateLimitPayload sets a per-upstream token bucket on write.
type RateLimitPayload struct {
	PerSecond int `json:"per_second"`
	Burst     int `json:"burst"`
}

// MembershipPayload replaces a group's member list.
type MembershipPayload struct {
	Upstreams []MemberView `json:"upstreams"`
}

func (p *UpstreamPayload) toConfig() config.UpstreamConfig {
	cfg := config.UpstreamConfig{Name: p.Name, URL: p.URL}
	if p.Auth != nil {
		cfg.Auth = &config.AuthConfig{
			Type:     p.Auth.Type,
			Token:    p.Auth.Token,
			Username: p.Auth.Username,
			Password: p.Auth.Password,
		}
	}
	for _, h := range p.Headers {
		cfg.Headers = append(cfg.Headers, config.HeaderOperation{Op: h.Op, Key: h.Key, Value: h.Value})
	}
	if p.Breaker != nil {
		cfg.Breaker = &config.BreakerConfig{Threshold: p.Breaker.Threshold, Cooldown: p.Breaker.Cooldown}
	}
	if p.Rate != nil {
		cfg.RateLimit = &config.RateLimitConfig{PerSecond: p.Rate.PerSecond, Burst: p.Rate.Burst}
	}
	return cfg
}

func upstreamView(u *upstream.Upstream) UpstreamView {
	rec := u.Record()
	breaker := u.Breaker()
	health := u.Health()

	view := UpstreamView{
		Name:     rec.Name,
		URL:      rec.URL.String(),
		AuthType: string(rec.Auth.Type),
		Breaker: BreakerView{
			State:           breaker.State().String(),
			Threshold:       breaker.Config().Threshold,
			CooldownSeconds: int(breaker.Config().Cooldown.Seconds()),
		},
		Health: HealthView{
			EWMALatencyMS: health.EWMALatency(),
			InFlight:      health.InFlight(),
			SuccessRate:   health.SuccessRate(),
		},
	}
	for _, h := range rec.Headers {
		view.Headers = append(view.Headers, HeaderOpView{Op: string(h.Op), Key: h.Key, Value: h.Value})
	}
	return view
}

func groupView(g *manager.Group) GroupView {
	view := GroupView{
		Name:     g.Name,
		Strategy: g.Strategy.Name(),
	}
	for _, m := range g.Members {
		view.Upstreams = append(view.Upstreams, MemberView{Name: m.Upstream.Name(), Weight: m.Weight})
	}
	return view
}

func forwardView(f config.ForwardConfig) ForwardView {
	view := ForwardView{
		Name:         f.Name,
		Address:      f.Address,
		Port:         f.Port,
		DefaultGroup: f.DefaultGroup,
	}
	for _, r := range f.Routing {
		view.Routing = append(view.Routing, RouteView{Path: r.Path, TargetGroup: r.TargetGroup})
	}
	return view
}
