package upstream

import (
	"sync/atomic"

	"lumen-hq/lumen/pkg/events"
	"lumen-hq/lumen/pkg/ratelimit"
)

// Upstream is the stable runtime identity of one backend endpoint. Group
// member lists and in-flight requests hold *Upstream pointers; the record
// behind it is swapped atomically on updates while health and breaker state
// persist across ancillary changes.
type Upstream struct {
	record  atomic.Pointer[Record]
	health  *HealthState
	breaker atomic.Pointer[Breaker]
	limiter atomic.Pointer[ratelimit.TokenBucket]
	sink    events.Sink
}

// New wraps a record into a runtime upstream with fresh health and breaker
// state.
func New(rec *Record, sink events.Sink) *Upstream {
	if sink == nil {
		sink = events.NopSink{}
	}
	u := &Upstream{health: NewHealthState(), sink: sink}
	u.record.Store(rec)
	u.breaker.Store(NewBreaker(rec.Breaker, rec.Name, rec.URL.String(), sink))
	u.limiter.Store(newLimiter(rec.RateLimit))
	return u
}

func newLimiter(cfg *RateLimitConfig) *ratelimit.TokenBucket {
	if cfg == nil {
		return nil
	}
	return ratelimit.NewTokenBucket(int64(cfg.Burst), float64(cfg.PerSecond))
}

// Name returns the upstream's globally unique name.
func (u *Upstream) Name() string { return u.record.Load().Name }

// Record returns the current immutable record. Callers that dispatch a
// request must capture the returned pointer once and use it for the whole
// request: a concurrent update must not change an in-flight request's view.
func (u *Upstream) Record() *Record { return u.record.Load() }

// Health returns the shared health state.
func (u *Upstream) Health() *HealthState { return u.health }

// Breaker returns the current circuit breaker.
func (u *Upstream) Breaker() *Breaker { return u.breaker.Load() }

// Limiter returns the optional per-upstream token bucket, or nil.
func (u *Upstream) Limiter() *ratelimit.TokenBucket { return u.limiter.Load() }

// Swap publishes a new record. Health state always survives the swap. The
// breaker survives when its parameters are unchanged and is rebuilt (runtime
// state reset) when threshold or cooldown changed. The per-upstream limiter
// is rebuilt whenever the rate-limit block changed.
func (u *Upstream) Swap(rec *Record) {
	old := u.record.Load()
	if rec.Breaker != old.Breaker {
		u.breaker.Store(NewBreaker(rec.Breaker, rec.Name, rec.URL.String(), u.sink))
	}
	if !rateLimitEqual(rec.RateLimit, old.RateLimit) {
		u.limiter.Store(newLimiter(rec.RateLimit))
	}
	u.record.Store(rec)
}

func rateLimitEqual(a, b *RateLimitConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
