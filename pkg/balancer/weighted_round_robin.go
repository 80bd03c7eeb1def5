package balancer

import (
	"sync"

	"lumen-hq/lumen/pkg/upstream"
)

// WeightedRoundRobin implements the smooth weighted round-robin algorithm:
// on every selection each candidate's accumulator gains its configured
// weight, the largest accumulator wins, and the winner's accumulator is
// decremented by the total weight. Over N selections each upstream receives
// N·w/Σw ± 1 picks without bursty clustering.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[*upstream.Upstream]int
}

// NewWeightedRoundRobin creates a smooth WRR strategy with zeroed
// accumulators.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{current: make(map[*upstream.Upstream]int)}
}

// Select picks the candidate with the largest current weight, ties broken
// by list order.
func (s *WeightedRoundRobin) Select(candidates []Candidate) (*upstream.Upstream, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyUpstream
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	var best *upstream.Upstream
	bestWeight := 0
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		cur := s.current[c.Upstream] + w
		s.current[c.Upstream] = cur
		if best == nil || cur > bestWeight {
			best = c.Upstream
			bestWeight = cur
		}
	}

	s.current[best] -= total
	return best, nil
}

// Name returns the strategy tag.
func (s *WeightedRoundRobin) Name() string { return StrategyWeightedRoundRobin }

// Reset clears the weight accumulators.
func (s *WeightedRoundRobin) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = make(map[*upstream.Upstream]int)
}
