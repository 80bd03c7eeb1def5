// Package manager owns the live set of upstreams and groups. Reads are
// lock-free against an immutable registry snapshot swapped under an atomic
// pointer; all mutations serialise through a single mutex and publish a new
// snapshot, so a request that already selected an upstream proceeds against
// the records it captured while later selections observe the new state.
package manager

import (
	"fmt"
	"net/http"
	"time"

	"lumen-hq/lumen/pkg/balancer"
	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/upstream"
)

// Member is one group entry: a stable upstream runtime plus its weight.
type Member struct {
	Upstream *upstream.Upstream
	Weight   int
}

// Group is the runtime form of an upstream group: its ordered membership,
// its strategy instance, and its shared outbound HTTP client. A Group value
// is immutable; membership mutations build a replacement Group and swap it
// into the registry, replacing strategy state and client together.
type Group struct {
	Name         string
	Members      []Member
	Strategy     balancer.Strategy
	Client       *http.Client
	ClientConfig upstream.ClientConfig

	// cfg is the originating configuration, kept so hot reloads can tell
	// changed groups from untouched ones.
	cfg config.UpstreamGroupConfig
}

// Candidates returns the members whose breakers currently admit a call,
// minus the excluded set, preserving configured order. The pipeline
// reconfirms admission with TryAcquire after selection.
func (g *Group) Candidates(exclude map[*upstream.Upstream]bool) []balancer.Candidate {
	out := make([]balancer.Candidate, 0, len(g.Members))
	for _, m := range g.Members {
		if exclude[m.Upstream] {
			continue
		}
		if !m.Upstream.Breaker().CanAttempt() {
			continue
		}
		out = append(out, balancer.Candidate{Upstream: m.Upstream, Weight: m.Weight})
	}
	return out
}

// UpstreamNames returns the ordered member names.
func (g *Group) UpstreamNames() []string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Upstream.Name()
	}
	return names
}

// buildGroup assembles a Group from configuration, resolving member names
// against the given upstream set.
func buildGroup(cfg config.UpstreamGroupConfig, upstreams map[string]*upstream.Upstream) (*Group, error) {
	members := make([]Member, 0, len(cfg.Upstreams))
	for _, ref := range cfg.Upstreams {
		u, ok := upstreams[ref.Name]
		if !ok {
			return nil, fmt.Errorf("group %q: unknown upstream %q", cfg.Name, ref.Name)
		}
		members = append(members, Member{Upstream: u, Weight: ref.Weight})
	}

	strategy, err := balancer.New(cfg.Balance.Strategy)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", cfg.Name, err)
	}

	clientCfg := clientConfigFrom(cfg.HTTPClient)
	client, err := upstream.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", cfg.Name, err)
	}

	return &Group{
		Name:         cfg.Name,
		Members:      members,
		Strategy:     strategy,
		Client:       client,
		ClientConfig: clientCfg,
		cfg:          cfg,
	}, nil
}

func clientConfigFrom(hc config.HTTPClientConfig) upstream.ClientConfig {
	cc := upstream.ClientConfig{
		UserAgent: hc.Agent,
		Stream:    hc.StreamEnabled(),
		Connect:   time.Duration(hc.Timeout.Connect) * time.Second,
		Request:   time.Duration(hc.Timeout.Request) * time.Second,
		Idle:      time.Duration(hc.Timeout.Idle) * time.Second,
	}
	if hc.KeepAlive != nil {
		cc.KeepAlive = time.Duration(*hc.KeepAlive) * time.Second
	}
	if hc.Retry != nil {
		cc.Retry = &upstream.RetryConfig{
			Attempts:       hc.Retry.Attempts,
			InitialBackoff: time.Duration(hc.Retry.Initial) * time.Millisecond,
		}
	}
	if hc.Proxy != nil {
		cc.ProxyURL = hc.Proxy.URL
	}
	return cc
}
