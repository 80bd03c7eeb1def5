package upstream

import (
	"sync"
	"testing"
	"time"

	"lumen-hq/lumen/pkg/events"
)

func newTestBreaker(threshold float64, cooldown time.Duration) *Breaker {
	return NewBreaker(
		BreakerConfig{Threshold: threshold, Cooldown: cooldown},
		"test-upstream",
		"http://backend.local",
		nil,
	)
}

func recordOutcome(t *testing.T, b *Breaker, success bool) {
	t.Helper()
	permit, ok := b.TryAcquire("test-group")
	if !ok {
		t.Fatalf("TryAcquire rejected in state %v", b.State())
	}
	permit.Record(success)
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	b := newTestBreaker(0.5, time.Minute)

	// Fewer than the minimum samples never trips, even at 100% failures.
	for i := 0; i < breakerMinSamples-1; i++ {
		recordOutcome(t, b, false)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want Closed", got)
	}
}

func TestBreakerTripsOnFailureRate(t *testing.T) {
	b := newTestBreaker(0.5, time.Minute)

	for i := 0; i < breakerMinSamples; i++ {
		recordOutcome(t, b, false)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want Open", got)
	}

	if _, ok := b.TryAcquire("test-group"); ok {
		t.Fatal("TryAcquire admitted a call while Open inside cooldown")
	}
	if b.CanAttempt() {
		t.Fatal("CanAttempt reported true while Open inside cooldown")
	}
}

func TestBreakerDoesNotTripAtThreshold(t *testing.T) {
	// 50% failures at threshold 0.5: the rate must exceed, not meet, the
	// threshold.
	b := newTestBreaker(0.5, time.Minute)

	for i := 0; i < 10; i++ {
		recordOutcome(t, b, i%2 == 0)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want Closed at exactly threshold rate", got)
	}
}

func TestBreakerHalfOpenProbeSuccess(t *testing.T) {
	b := newTestBreaker(0.5, 10*time.Millisecond)

	for i := 0; i < breakerMinSamples; i++ {
		recordOutcome(t, b, false)
	}
	time.Sleep(20 * time.Millisecond)

	permit, ok := b.TryAcquire("test-group")
	if !ok {
		t.Fatal("TryAcquire rejected after cooldown elapsed")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want HalfOpen after probe acquisition", got)
	}

	// Concurrent calls are rejected while the probe is in flight.
	if _, ok := b.TryAcquire("test-group"); ok {
		t.Fatal("TryAcquire admitted a second call during probe")
	}

	permit.Record(true)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want Closed after probe success", got)
	}

	// The window was reset: old failures must not count.
	recordOutcome(t, b, false)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want Closed after single failure post-reset", got)
	}
}

func TestBreakerHalfOpenProbeFailure(t *testing.T) {
	b := newTestBreaker(0.5, 10*time.Millisecond)

	for i := 0; i < breakerMinSamples; i++ {
		recordOutcome(t, b, false)
	}
	time.Sleep(20 * time.Millisecond)

	permit, ok := b.TryAcquire("test-group")
	if !ok {
		t.Fatal("TryAcquire rejected after cooldown elapsed")
	}
	permit.Record(false)

	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want Open after probe failure", got)
	}
	// The cooldown restarts from the probe failure.
	if _, ok := b.TryAcquire("test-group"); ok {
		t.Fatal("TryAcquire admitted a call immediately after probe failure")
	}
}

func TestPermitRecordIsIdempotent(t *testing.T) {
	b := newTestBreaker(0.5, time.Minute)

	permit, ok := b.TryAcquire("test-group")
	if !ok {
		t.Fatal("TryAcquire rejected on a fresh breaker")
	}
	permit.Record(false)
	permit.Record(false)
	permit.Record(false)

	b.mu.Lock()
	count := b.outcomeCount
	b.mu.Unlock()
	if count != 1 {
		t.Fatalf("outcomeCount = %d after repeated Record, want 1", count)
	}
}

func TestBreakerTransitionEvents(t *testing.T) {
	sink := &captureSink{}
	b := NewBreaker(BreakerConfig{Threshold: 0.5, Cooldown: 10 * time.Millisecond},
		"u1", "http://backend.local", sink)

	for i := 0; i < breakerMinSamples; i++ {
		p, _ := b.TryAcquire("g1")
		p.Record(false)
	}
	time.Sleep(20 * time.Millisecond)
	p, _ := b.TryAcquire("g1")
	p.Record(true)

	want := []string{
		events.StateClosed + ">" + events.StateOpen,
		events.StateOpen + ">" + events.StateHalfOpen,
		events.StateHalfOpen + ">" + events.StateClosed,
	}
	got := sink.transitions()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBreakerConcurrentAcquire(t *testing.T) {
	b := newTestBreaker(0.9, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if p, ok := b.TryAcquire("g"); ok {
				p.Record(n%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want Closed at 50%% failures under 0.9 threshold", got)
	}
}

// captureSink records breaker transitions for assertions.
type captureSink struct {
	events.NopSink
	mu    sync.Mutex
	moves []string
}

func (s *captureSink) BreakerTransition(group, upstream, url, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = append(s.moves, from+">"+to)
}

func (s *captureSink) transitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.moves...)
}
