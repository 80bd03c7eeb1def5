package upstream

import (
	"log/slog"
	"sync"
	"time"

	"lumen-hq/lumen/pkg/events"
)

// BreakerState is the circuit breaker state tag.
type BreakerState int32

const (
	// StateClosed admits every call and records outcomes.
	StateClosed BreakerState = iota
	// StateOpen rejects every call until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single probe; concurrent calls are rejected
	// until the probe resolves.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return events.StateClosed
	case StateOpen:
		return events.StateOpen
	case StateHalfOpen:
		return events.StateHalfOpen
	default:
		return "unknown"
	}
}

// breakerWindow is the call-count observation window: the failure rate is
// computed over the last breakerWindow recorded outcomes. A call-count
// window was chosen over a time window so the rate stays meaningful under
// the bursty, long-tailed traffic typical of LLM backends.
const breakerWindow = 20

// breakerMinSamples is the minimum number of recorded outcomes before the
// breaker may trip.
const breakerMinSamples = 5

// Breaker is a three-state circuit breaker gating calls to one upstream.
//
// The forwarding pipeline drives it through two operations: TryAcquire
// reserves the right to dispatch (atomically claiming the probe slot in
// HalfOpen), and Permit.Record reports the outcome. State transitions are
// emitted to the event sink.
//
// All methods are safe for concurrent use; a short critical section guards
// the state tag and the outcome ring.
type Breaker struct {
	cfg  BreakerConfig
	name string // upstream name, for events and logs
	url  string
	sink events.Sink

	mu           sync.Mutex
	state        BreakerState
	openedAt     time.Time
	probeInFly   bool
	outcomes     [breakerWindow]bool
	outcomeCount int
	outcomePos   int
}

// NewBreaker creates a breaker in the Closed state.
func NewBreaker(cfg BreakerConfig, name, url string, sink events.Sink) *Breaker {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Breaker{
		cfg:  cfg,
		name: name,
		url:  url,
		sink: sink,
	}
}

// Config returns the breaker parameters it was built with.
func (b *Breaker) Config() BreakerConfig { return b.cfg }

// State returns the current state tag. An Open breaker whose cooldown has
// elapsed still reports Open until a call drives the transition.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanAttempt reports whether a call issued now could be admitted: the
// breaker is Closed, HalfOpen with a free probe slot, or Open with the
// cooldown elapsed. The balancer uses this as a snapshot; the pipeline
// reconfirms with TryAcquire.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(b.openedAt) >= b.cfg.Cooldown
	case StateHalfOpen:
		return !b.probeInFly
	}
	return false
}

// Permit is the right to dispatch one call. Record must be called exactly
// once with the call's outcome.
type Permit struct {
	b     *Breaker
	group string
	probe bool
	done  bool
}

// TryAcquire attempts to reserve a dispatch slot. The group label is
// attached to the events this call and its outcome emit.
//
// Returns (nil, false) when the breaker rejects the call (CircuitOpen).
func (b *Breaker) TryAcquire(group string) (*Permit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return &Permit{b: b, group: group}, true

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return nil, false
		}
		b.transitionLocked(group, StateHalfOpen)
		b.probeInFly = true
		return &Permit{b: b, group: group, probe: true}, true

	case StateHalfOpen:
		if b.probeInFly {
			return nil, false
		}
		b.probeInFly = true
		return &Permit{b: b, group: group, probe: true}, true
	}
	return nil, false
}

// Record reports the outcome of a permitted call and drives state
// transitions. Calling Record more than once on the same permit is a no-op.
func (p *Permit) Record(success bool) {
	b := p.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.done {
		return
	}
	p.done = true

	b.sink.BreakerResult(p.group, b.name, b.url, success)

	if p.probe {
		b.probeInFly = false
		if b.state != StateHalfOpen {
			// A concurrent transition already resolved the probe window.
			return
		}
		if success {
			b.resetWindowLocked()
			b.transitionLocked(p.group, StateClosed)
		} else {
			b.openedAt = time.Now()
			b.transitionLocked(p.group, StateOpen)
		}
		return
	}

	if b.state != StateClosed {
		return
	}

	b.outcomes[b.outcomePos] = success
	b.outcomePos = (b.outcomePos + 1) % breakerWindow
	if b.outcomeCount < breakerWindow {
		b.outcomeCount++
	}

	if !success && b.outcomeCount >= breakerMinSamples && b.failureRateLocked() > b.cfg.Threshold {
		b.openedAt = time.Now()
		b.transitionLocked(p.group, StateOpen)
	}
}

func (b *Breaker) failureRateLocked() float64 {
	failures := 0
	for i := 0; i < b.outcomeCount; i++ {
		if !b.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.outcomeCount)
}

func (b *Breaker) resetWindowLocked() {
	b.outcomeCount = 0
	b.outcomePos = 0
}

func (b *Breaker) transitionLocked(group string, to BreakerState) {
	from := b.state
	b.state = to
	b.sink.BreakerTransition(group, b.name, b.url, from.String(), to.String())

	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened",
			"upstream", b.name,
			"group", group,
			"cooldown", b.cfg.Cooldown,
		)
	case StateHalfOpen:
		slog.Info("circuit breaker half-opened",
			"upstream", b.name,
			"group", group,
		)
	case StateClosed:
		slog.Info("circuit breaker closed",
			"upstream", b.name,
			"group", group,
		)
	}
}
