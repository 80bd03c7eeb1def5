package upstream

import (
	"math"
	"sync/atomic"
	"time"
)

// ewmaAlpha is the smoothing factor for the response-time moving average.
// A small factor suits the stable latency profile of LLM backends.
const ewmaAlpha = 0.15

// outcomeWindow is the number of recent call outcomes tracked for the
// success-rate view. It matches the breaker's observation window.
const outcomeWindow = 20

const (
	outcomeNone    int32 = 0
	outcomeSuccess int32 = 1
	outcomeFailure int32 = 2
)

// HealthState holds per-upstream rolling statistics: an EWMA of observed
// response time, an in-flight counter, and a windowed success/failure view.
//
// The balancer reads these fields on every selection while the forwarding
// pipeline writes them on every completion, so all updates are lock-free:
// the EWMA is a float64 encoded in an atomic word updated by a CAS loop,
// and the counters are plain atomics.
type HealthState struct {
	// ewmaBits holds math.Float64bits of the EWMA latency in milliseconds.
	ewmaBits atomic.Uint64

	// sampled is set once the first latency sample has been observed.
	sampled atomic.Bool

	inFlight atomic.Int64

	// outcomes is a ring of the last outcomeWindow call results.
	outcomes [outcomeWindow]atomic.Int32
	cursor   atomic.Uint64
}

// NewHealthState returns a zeroed health state. The EWMA reports 0 until the
// first sample arrives.
func NewHealthState() *HealthState {
	return &HealthState{}
}

// BeginRequest increments the in-flight counter at dispatch.
func (h *HealthState) BeginRequest() {
	h.inFlight.Add(1)
}

// EndRequest decrements the in-flight counter at completion or error.
// The counter never goes below zero.
func (h *HealthState) EndRequest() {
	if h.inFlight.Add(-1) < 0 {
		h.inFlight.Add(1)
	}
}

// InFlight returns the number of requests currently dispatched.
func (h *HealthState) InFlight() int64 {
	return h.inFlight.Load()
}

// ObserveLatency folds one response-time sample into the EWMA. The first
// sample initialises the average.
func (h *HealthState) ObserveLatency(d time.Duration) {
	sample := float64(d) / float64(time.Millisecond)
	if h.sampled.CompareAndSwap(false, true) {
		h.ewmaBits.Store(math.Float64bits(sample))
		return
	}
	for {
		old := h.ewmaBits.Load()
		ema := math.Float64frombits(old)
		next := (1-ewmaAlpha)*ema + ewmaAlpha*sample
		if h.ewmaBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// EWMALatency returns the smoothed response time in milliseconds, or 0 when
// no sample has been observed yet.
func (h *HealthState) EWMALatency() float64 {
	return math.Float64frombits(h.ewmaBits.Load())
}

// RecordOutcome appends one call result to the windowed view.
func (h *HealthState) RecordOutcome(success bool) {
	slot := (h.cursor.Add(1) - 1) % outcomeWindow
	v := outcomeFailure
	if success {
		v = outcomeSuccess
	}
	h.outcomes[slot].Store(v)
}

// SuccessRate returns the fraction of successful calls within the window.
// With no recorded outcomes the upstream is assumed fully healthy.
func (h *HealthState) SuccessRate() float64 {
	var total, ok int
	for i := range h.outcomes {
		switch h.outcomes[i].Load() {
		case outcomeSuccess:
			total++
			ok++
		case outcomeFailure:
			total++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(ok) / float64(total)
}
