// Package balancer implements the five upstream selection strategies. A
// Strategy picks one upstream from the candidates the pipeline offers; the
// candidates are already filtered for breaker admission and intra-pass
// exclusions, and the pipeline reconfirms admission with the breaker after
// selection.
package balancer

import (
	"errors"
	"fmt"

	"lumen-hq/lumen/pkg/upstream"
)

// Strategy tags as they appear in configuration and metrics.
const (
	StrategyRoundRobin         = "roundrobin"
	StrategyWeightedRoundRobin = "weighted_roundrobin"
	StrategyRandom             = "random"
	StrategyResponseAware      = "response_aware"
	StrategyFailover           = "failover"
)

// ErrNoHealthyUpstream is returned when no candidate can be selected.
var ErrNoHealthyUpstream = errors.New("no healthy upstream available")

// Candidate is one group member offered to a strategy: the upstream and its
// configured weight (used only by weighted round-robin).
type Candidate struct {
	Upstream *upstream.Upstream
	Weight   int
}

// Strategy selects one upstream from a candidate list.
//
// Implementations must be safe for concurrent use: selections race across
// request goroutines. Selection is read-only with respect to health state;
// the forwarding pipeline owns all health updates.
type Strategy interface {
	// Select picks one candidate. The list preserves the group's
	// configured order. Returns ErrNoHealthyUpstream when the list is
	// empty.
	Select(candidates []Candidate) (*upstream.Upstream, error)

	// Name returns the strategy tag for logging and metrics.
	Name() string

	// Reset clears internal selection state (cursor, weight accumulators).
	// Called when a group's membership is replaced.
	Reset()
}

// New builds a strategy instance from its configuration tag.
func New(tag string) (Strategy, error) {
	switch tag {
	case StrategyRoundRobin:
		return NewRoundRobin(), nil
	case StrategyWeightedRoundRobin:
		return NewWeightedRoundRobin(), nil
	case StrategyRandom:
		return NewRandom(), nil
	case StrategyResponseAware:
		return NewResponseAware(), nil
	case StrategyFailover:
		return NewFailover(), nil
	default:
		return nil, fmt.Errorf("unknown balance strategy %q", tag)
	}
}
