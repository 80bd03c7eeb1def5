// Package ratelimit provides token-bucket rate limiting for the ingress
// pipeline: a shared bucket primitive, and a per-client-IP limiter whose
// stale buckets are reaped on a schedule.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a classic token bucket: tokens accrue at refillRate per
// second up to capacity, and each admitted request consumes one token.
// Bursts up to capacity are allowed while the long-run rate holds.
//
// Refill is computed lazily from monotonic elapsed time, so an idle bucket
// costs nothing. All methods are safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket with the given burst capacity and
// average per-second rate.
func NewTokenBucket(capacity int64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available and reports whether the request is
// admitted.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Remaining returns the number of whole tokens currently available.
func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	return int64(tb.tokens)
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
