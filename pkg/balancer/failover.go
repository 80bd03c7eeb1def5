package balancer

import (
	"lumen-hq/lumen/pkg/upstream"
)

// Failover concentrates traffic on the first configured upstream and falls
// back through the list in order as breakers open. Weights are ignored.
type Failover struct{}

// NewFailover creates a failover strategy.
func NewFailover() *Failover { return &Failover{} }

// Select returns the first candidate whose breaker admits a call. The
// candidate list preserves configured order, so the primary is always
// preferred while healthy.
func (s *Failover) Select(candidates []Candidate) (*upstream.Upstream, error) {
	for _, c := range candidates {
		if c.Upstream.Breaker().CanAttempt() {
			return c.Upstream, nil
		}
	}
	if len(candidates) > 0 {
		// The pipeline pre-filters for admission; if a breaker flipped
		// between filtering and selection, still offer the first entry and
		// let the permit re-check decide.
		return candidates[0].Upstream, nil
	}
	return nil, ErrNoHealthyUpstream
}

// Name returns the strategy tag.
func (s *Failover) Name() string { return StrategyFailover }

// Reset is a no-op; failover keeps no state.
func (s *Failover) Reset() {}
