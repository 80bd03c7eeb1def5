package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/events"
	"lumen-hq/lumen/pkg/upstream"
)

var (
	// ErrNotFound is returned when a named upstream or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on duplicate create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDependencyViolation is returned when a delete would leave a
	// dangling reference.
	ErrDependencyViolation = errors.New("dependency violation")
)

// registry is one immutable snapshot of the live configuration. Lookups
// load the current snapshot once and never observe a partial mutation.
type registry struct {
	upstreams map[string]*upstream.Upstream
	groups    map[string]*Group
}

func (r *registry) clone() *registry {
	next := &registry{
		upstreams: make(map[string]*upstream.Upstream, len(r.upstreams)),
		groups:    make(map[string]*Group, len(r.groups)),
	}
	for k, v := range r.upstreams {
		next.upstreams[k] = v
	}
	for k, v := range r.groups {
		next.groups[k] = v
	}
	return next
}

// Manager holds the registry and implements the config mutation API. Reads
// are lock-free; writers serialise through mu, making all mutations
// linearisable with respect to one another.
type Manager struct {
	mu   sync.Mutex
	reg  atomic.Pointer[registry]
	sink events.Sink
}

// New creates an empty manager.
func New(sink events.Sink) *Manager {
	if sink == nil {
		sink = events.NopSink{}
	}
	m := &Manager{sink: sink}
	m.reg.Store(&registry{
		upstreams: make(map[string]*upstream.Upstream),
		groups:    make(map[string]*Group),
	})
	return m
}

// NewFromConfig builds a manager from a validated configuration document.
func NewFromConfig(cfg *config.Config, sink events.Sink) (*Manager, error) {
	m := New(sink)
	if err := m.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// GetGroup returns the named group's current snapshot.
func (m *Manager) GetGroup(name string) (*Group, bool) {
	g, ok := m.reg.Load().groups[name]
	return g, ok
}

// GetUpstream returns the named upstream runtime.
func (m *Manager) GetUpstream(name string) (*upstream.Upstream, bool) {
	u, ok := m.reg.Load().upstreams[name]
	return u, ok
}

// Upstreams returns all upstream runtimes sorted by name.
func (m *Manager) Upstreams() []*upstream.Upstream {
	reg := m.reg.Load()
	out := make([]*upstream.Upstream, 0, len(reg.upstreams))
	for _, u := range reg.upstreams {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Groups returns all group snapshots sorted by name.
func (m *Manager) Groups() []*Group {
	reg := m.reg.Load()
	out := make([]*Group, 0, len(reg.groups))
	for _, g := range reg.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateUpstream validates and inserts a new upstream definition.
func (m *Manager) CreateUpstream(cfg config.UpstreamConfig) error {
	if err := config.ValidateUpstreamConfig(&cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.reg.Load()
	if _, ok := reg.upstreams[cfg.Name]; ok {
		return fmt.Errorf("upstream %q: %w", cfg.Name, ErrAlreadyExists)
	}

	rec, err := recordFrom(cfg)
	if err != nil {
		return err
	}

	next := reg.clone()
	next.upstreams[cfg.Name] = upstream.New(rec, m.sink)
	m.reg.Store(next)

	slog.Info("upstream created", "upstream", cfg.Name, "url", cfg.URL)
	return nil
}

// UpdateUpstream atomically replaces an upstream's record. Selections made
// after the swap observe the new record; requests already dispatched
// complete against the old one. Health state always survives; breaker
// runtime state survives unless threshold or cooldown changed.
func (m *Manager) UpdateUpstream(name string, cfg config.UpstreamConfig) error {
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.Name != name {
		return fmt.Errorf("upstream %q: payload renames to %q; rename is not supported", name, cfg.Name)
	}
	if err := config.ValidateUpstreamConfig(&cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.reg.Load().upstreams[name]
	if !ok {
		return fmt.Errorf("upstream %q: %w", name, ErrNotFound)
	}

	rec, err := recordFrom(cfg)
	if err != nil {
		return err
	}
	u.Swap(rec)

	slog.Info("upstream updated", "upstream", name, "url", cfg.URL)
	return nil
}

// DeleteUpstream removes an upstream. Rejected with ErrDependencyViolation
// while any group references it. In-flight requests that captured the
// record finish normally: the runtime stays reachable through them.
func (m *Manager) DeleteUpstream(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.reg.Load()
	if _, ok := reg.upstreams[name]; !ok {
		return fmt.Errorf("upstream %q: %w", name, ErrNotFound)
	}
	for _, g := range reg.groups {
		for _, member := range g.Members {
			if member.Upstream.Name() == name {
				return fmt.Errorf("upstream %q is referenced by group %q: %w", name, g.Name, ErrDependencyViolation)
			}
		}
	}

	next := reg.clone()
	delete(next.upstreams, name)
	m.reg.Store(next)

	slog.Info("upstream deleted", "upstream", name)
	return nil
}

// ReplaceGroupUpstreams atomically swaps a group's entire membership. The
// strategy's selection state and the HTTP client are rebuilt together.
// Every selection after the swap draws only from the new list.
func (m *Manager) ReplaceGroupUpstreams(groupName string, refs []config.UpstreamRef) error {
	if len(refs) == 0 {
		return fmt.Errorf("group %q: membership must not be empty", groupName)
	}
	seen := make(map[string]bool)
	for i := range refs {
		if refs[i].Weight == 0 {
			refs[i].Weight = config.DefaultWeight
		}
		if err := config.ValidateUpstreamRef(refs[i]); err != nil {
			return err
		}
		if seen[refs[i].Name] {
			return fmt.Errorf("group %q: upstream %q listed twice", groupName, refs[i].Name)
		}
		seen[refs[i].Name] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.reg.Load()
	old, ok := reg.groups[groupName]
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}

	cfg := old.cfg
	cfg.Upstreams = refs
	group, err := buildGroup(cfg, reg.upstreams)
	if err != nil {
		return err
	}

	next := reg.clone()
	next.groups[groupName] = group
	m.reg.Store(next)

	slog.Info("group membership replaced",
		"group", groupName,
		"upstreams", group.UpstreamNames(),
	)
	return nil
}

// ApplyConfig reconciles the registry with a full configuration document,
// used at startup and by the file watcher. Upstream runtimes are preserved
// by name (records swapped in place); groups are rebuilt only when their
// configuration changed, so untouched groups keep their strategy state.
func (m *Manager) ApplyConfig(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.reg.Load()
	next := &registry{
		upstreams: make(map[string]*upstream.Upstream, len(cfg.Upstreams)),
		groups:    make(map[string]*Group, len(cfg.UpstreamGroups)),
	}

	for _, uc := range cfg.Upstreams {
		rec, err := recordFrom(uc)
		if err != nil {
			return err
		}
		if existing, ok := reg.upstreams[uc.Name]; ok {
			existing.Swap(rec)
			next.upstreams[uc.Name] = existing
		} else {
			next.upstreams[uc.Name] = upstream.New(rec, m.sink)
		}
	}

	for _, gc := range cfg.UpstreamGroups {
		if old, ok := reg.groups[gc.Name]; ok && reflect.DeepEqual(old.cfg, gc) && sameMembers(old, next.upstreams) {
			next.groups[gc.Name] = old
			continue
		}
		group, err := buildGroup(gc, next.upstreams)
		if err != nil {
			return err
		}
		next.groups[gc.Name] = group
	}

	m.reg.Store(next)
	return nil
}

// sameMembers reports whether a group's member pointers still resolve to
// the upstream runtimes in the new registry.
func sameMembers(g *Group, upstreams map[string]*upstream.Upstream) bool {
	for _, m := range g.Members {
		if upstreams[m.Upstream.Name()] != m.Upstream {
			return false
		}
	}
	return true
}

// recordFrom converts an upstream configuration block into an immutable
// runtime record, filling breaker defaults.
func recordFrom(cfg config.UpstreamConfig) (*upstream.Record, error) {
	auth := upstream.AuthConfig{Type: upstream.AuthNone}
	if cfg.Auth != nil {
		auth = upstream.AuthConfig{
			Type:     upstream.AuthType(cfg.Auth.Type),
			Token:    cfg.Auth.Token,
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
		}
	}

	headers := make([]upstream.HeaderOperation, 0, len(cfg.Headers))
	for _, h := range cfg.Headers {
		headers = append(headers, upstream.HeaderOperation{
			Op:    upstream.HeaderOp(h.Op),
			Key:   h.Key,
			Value: h.Value,
		})
	}

	breaker := upstream.DefaultBreakerConfig()
	if cfg.Breaker != nil {
		breaker = upstream.BreakerConfig{
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  time.Duration(cfg.Breaker.Cooldown) * time.Second,
		}
	}

	var rl *upstream.RateLimitConfig
	if cfg.RateLimit != nil {
		rl = &upstream.RateLimitConfig{
			PerSecond: cfg.RateLimit.PerSecond,
			Burst:     cfg.RateLimit.Burst,
		}
	}

	return upstream.NewRecord(cfg.Name, cfg.URL, auth, headers, breaker, rl)
}
