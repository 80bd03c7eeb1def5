package balancer

import (
	"math/rand/v2"

	"lumen-hq/lumen/pkg/upstream"
)

// Random selects uniformly among the candidates.
type Random struct{}

// NewRandom creates a uniform random strategy.
func NewRandom() *Random { return &Random{} }

// Select picks a uniformly random candidate.
func (s *Random) Select(candidates []Candidate) (*upstream.Upstream, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyUpstream
	}
	return candidates[rand.IntN(len(candidates))].Upstream, nil
}

// Name returns the strategy tag.
func (s *Random) Name() string { return StrategyRandom }

// Reset is a no-op; random selection keeps no state.
func (s *Random) Reset() {}
