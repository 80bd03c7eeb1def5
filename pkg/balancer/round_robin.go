package balancer

import (
	"sync/atomic"

	"lumen-hq/lumen/pkg/upstream"
)

// RoundRobin cycles through the candidate list with a shared atomic cursor.
// Candidates excluded for health do not appear in the list, so unhealthy
// entries are skipped without consuming extra cursor ticks.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin creates a round-robin strategy with the cursor at zero.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select returns the next candidate in cyclic order.
func (s *RoundRobin) Select(candidates []Candidate) (*upstream.Upstream, error) {
	n := len(candidates)
	if n == 0 {
		return nil, ErrNoHealthyUpstream
	}
	tick := s.cursor.Add(1) - 1
	return candidates[tick%uint64(n)].Upstream, nil
}

// Name returns the strategy tag.
func (s *RoundRobin) Name() string { return StrategyRoundRobin }

// Reset returns the cursor to the start of the list.
func (s *RoundRobin) Reset() { s.cursor.Store(0) }
