package balancer

import (
	"lumen-hq/lumen/pkg/upstream"
)

// successRateFloor prevents the success-rate divisor from blowing up the
// score when an upstream has failed every recent call.
const successRateFloor = 0.01

// ResponseAware scores every candidate from its live health state and picks
// the cheapest:
//
//	score = ewma_latency_ms × (in_flight + 1) × 1 / max(success_rate, 0.01)
//
// Ties are broken by list order. Selection never mutates health state; the
// forwarding pipeline feeds the EWMA and counters.
type ResponseAware struct{}

// NewResponseAware creates a response-time-aware strategy.
func NewResponseAware() *ResponseAware { return &ResponseAware{} }

// Select returns the candidate with the minimum score.
func (s *ResponseAware) Select(candidates []Candidate) (*upstream.Upstream, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyUpstream
	}

	var best *upstream.Upstream
	bestScore := 0.0
	for _, c := range candidates {
		h := c.Upstream.Health()

		score := h.EWMALatency() * float64(h.InFlight()+1)
		rate := h.SuccessRate()
		if rate < successRateFloor {
			rate = successRateFloor
		}
		score /= rate

		if best == nil || score < bestScore {
			best = c.Upstream
			bestScore = score
		}
	}
	return best, nil
}

// Name returns the strategy tag.
func (s *ResponseAware) Name() string { return StrategyResponseAware }

// Reset is a no-op; all inputs live in the shared health state.
func (s *ResponseAware) Reset() {}
