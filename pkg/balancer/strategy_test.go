package balancer

import (
	"errors"
	"testing"
	"time"

	"lumen-hq/lumen/pkg/upstream"
)

func testUpstream(t *testing.T, name string) *upstream.Upstream {
	t.Helper()
	rec, err := upstream.NewRecord(name, "http://"+name+".local", upstream.AuthConfig{}, nil, upstream.DefaultBreakerConfig(), nil)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return upstream.New(rec, nil)
}

func candidateList(ups []*upstream.Upstream, weights ...int) []Candidate {
	out := make([]Candidate, len(ups))
	for i, u := range ups {
		w := 1
		if i < len(weights) {
			w = weights[i]
		}
		out[i] = Candidate{Upstream: u, Weight: w}
	}
	return out
}

func TestNewKnownStrategies(t *testing.T) {
	for _, tag := range []string{
		StrategyRoundRobin,
		StrategyWeightedRoundRobin,
		StrategyRandom,
		StrategyResponseAware,
		StrategyFailover,
	} {
		t.Run(tag, func(t *testing.T) {
			s, err := New(tag)
			if err != nil {
				t.Fatalf("New(%q): %v", tag, err)
			}
			if s.Name() != tag {
				t.Fatalf("Name() = %q, want %q", s.Name(), tag)
			}
		})
	}

	if _, err := New("bogus"); err == nil {
		t.Fatal("New accepted an unknown strategy tag")
	}
}

func TestStrategiesRejectEmptyCandidates(t *testing.T) {
	for _, tag := range []string{
		StrategyRoundRobin,
		StrategyWeightedRoundRobin,
		StrategyRandom,
		StrategyResponseAware,
		StrategyFailover,
	} {
		s, err := New(tag)
		if err != nil {
			t.Fatalf("New(%q): %v", tag, err)
		}
		if _, err := s.Select(nil); !errors.Is(err, ErrNoHealthyUpstream) {
			t.Errorf("%s.Select(nil) error = %v, want ErrNoHealthyUpstream", tag, err)
		}
	}
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	a, b, c := testUpstream(t, "a"), testUpstream(t, "b"), testUpstream(t, "c")
	candidates := candidateList([]*upstream.Upstream{a, b, c})
	s := NewRoundRobin()

	want := []*upstream.Upstream{a, b, c, a, b, c}
	for i, expect := range want {
		got, err := s.Select(candidates)
		if err != nil {
			t.Fatalf("Select #%d: %v", i, err)
		}
		if got != expect {
			t.Fatalf("Select #%d = %s, want %s", i, got.Name(), expect.Name())
		}
	}
}

func TestRoundRobinSkipsExcludedWithoutBurningTicks(t *testing.T) {
	a, b, c := testUpstream(t, "a"), testUpstream(t, "b"), testUpstream(t, "c")
	s := NewRoundRobin()

	// With b filtered out the rotation covers only a and c.
	candidates := candidateList([]*upstream.Upstream{a, c})
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		got, err := s.Select(candidates)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[got.Name()]++
	}
	if seen["a"] != 2 || seen["c"] != 2 || seen["b"] != 0 {
		t.Fatalf("distribution = %v, want a:2 c:2", seen)
	}
	_ = b
}

func TestWeightedRoundRobinDistribution(t *testing.T) {
	a, b := testUpstream(t, "a"), testUpstream(t, "b")
	candidates := candidateList([]*upstream.Upstream{a, b}, 5, 1)
	s := NewWeightedRoundRobin()

	counts := map[string]int{}
	for i := 0; i < 60; i++ {
		got, err := s.Select(candidates)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[got.Name()]++
	}
	if counts["a"] != 50 || counts["b"] != 10 {
		t.Fatalf("distribution over 60 = %v, want a:50 b:10", counts)
	}
}

func TestWeightedRoundRobinSmoothness(t *testing.T) {
	// Smooth WRR must interleave rather than burst: with weights 5/1 the
	// low-weight upstream appears once within every window of 6.
	a, b := testUpstream(t, "a"), testUpstream(t, "b")
	candidates := candidateList([]*upstream.Upstream{a, b}, 5, 1)
	s := NewWeightedRoundRobin()

	var picks []string
	for i := 0; i < 12; i++ {
		got, _ := s.Select(candidates)
		picks = append(picks, got.Name())
	}
	for start := 0; start+6 <= len(picks); start += 6 {
		bCount := 0
		for _, p := range picks[start : start+6] {
			if p == "b" {
				bCount++
			}
		}
		if bCount != 1 {
			t.Fatalf("window %v has %d picks of b, want 1", picks[start:start+6], bCount)
		}
	}
}

func TestResponseAwarePrefersLowScore(t *testing.T) {
	fast, slow := testUpstream(t, "fast"), testUpstream(t, "slow")
	fast.Health().ObserveLatency(50 * time.Millisecond)
	slow.Health().ObserveLatency(500 * time.Millisecond)

	s := NewResponseAware()
	got, err := s.Select(candidateList([]*upstream.Upstream{slow, fast}))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != fast {
		t.Fatalf("Select = %s, want fast", got.Name())
	}
}

func TestResponseAwarePenalisesInFlight(t *testing.T) {
	a, b := testUpstream(t, "a"), testUpstream(t, "b")
	a.Health().ObserveLatency(100 * time.Millisecond)
	b.Health().ObserveLatency(100 * time.Millisecond)

	// Equal latency, but a is loaded: score(a) = 100*4, score(b) = 100*1.
	for i := 0; i < 3; i++ {
		a.Health().BeginRequest()
	}

	s := NewResponseAware()
	got, err := s.Select(candidateList([]*upstream.Upstream{a, b}))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != b {
		t.Fatalf("Select = %s, want b (lower in-flight)", got.Name())
	}
}

func TestResponseAwarePenalisesFailures(t *testing.T) {
	healthy, flaky := testUpstream(t, "healthy"), testUpstream(t, "flaky")
	healthy.Health().ObserveLatency(100 * time.Millisecond)
	flaky.Health().ObserveLatency(100 * time.Millisecond)
	for i := 0; i < 10; i++ {
		healthy.Health().RecordOutcome(true)
		flaky.Health().RecordOutcome(i%2 == 0)
	}

	s := NewResponseAware()
	got, err := s.Select(candidateList([]*upstream.Upstream{flaky, healthy}))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != healthy {
		t.Fatalf("Select = %s, want healthy", got.Name())
	}
}

func TestResponseAwareTieBreaksByOrder(t *testing.T) {
	a, b := testUpstream(t, "a"), testUpstream(t, "b")
	s := NewResponseAware()

	// No samples anywhere: all scores equal, first in list wins.
	got, err := s.Select(candidateList([]*upstream.Upstream{a, b}))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != a {
		t.Fatalf("Select = %s, want first candidate on tie", got.Name())
	}
}

func TestFailoverPrefersFirstHealthy(t *testing.T) {
	primary, backup := testUpstream(t, "primary"), testUpstream(t, "backup")
	s := NewFailover()

	got, err := s.Select(candidateList([]*upstream.Upstream{primary, backup}))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != primary {
		t.Fatalf("Select = %s, want primary", got.Name())
	}

	// Trip the primary's breaker; selection falls to the backup.
	for i := 0; i < 5; i++ {
		p, ok := primary.Breaker().TryAcquire("g")
		if !ok {
			break
		}
		p.Record(false)
	}
	got, err = s.Select(candidateList([]*upstream.Upstream{primary, backup}))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != backup {
		t.Fatalf("Select = %s after primary tripped, want backup", got.Name())
	}
}

func TestRandomCoversAllCandidates(t *testing.T) {
	a, b, c := testUpstream(t, "a"), testUpstream(t, "b"), testUpstream(t, "c")
	candidates := candidateList([]*upstream.Upstream{a, b, c})
	s := NewRandom()

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got, err := s.Select(candidates)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[got.Name()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("200 random selections covered %d upstreams, want 3", len(seen))
	}
}
