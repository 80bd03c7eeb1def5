package ratelimit

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// reapSchedule is how often stale client buckets are swept.
const reapSchedule = "@every 1m"

// staleAfter is how long a client bucket may sit unused before the reaper
// drops it.
const staleAfter = 10 * time.Minute

// IPLimiter rate-limits requests per client IP with one token bucket per
// address. Buckets are created on first sight and reaped after staleAfter
// of inactivity by a cron-driven sweep.
type IPLimiter struct {
	perSecond int
	burst     int

	mu      sync.Mutex
	buckets map[string]*clientBucket

	cron *cron.Cron
}

type clientBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewIPLimiter creates a limiter admitting perSecond requests per second
// with bursts up to burst, per client IP.
func NewIPLimiter(perSecond, burst int) *IPLimiter {
	return &IPLimiter{
		perSecond: perSecond,
		burst:     burst,
		buckets:   make(map[string]*clientBucket),
	}
}

// Allow reports whether a request from remoteAddr (a host:port pair as seen
// on http.Request.RemoteAddr) is admitted.
func (l *IPLimiter) Allow(remoteAddr string) bool {
	ip := clientIP(remoteAddr)

	l.mu.Lock()
	cb, ok := l.buckets[ip]
	if !ok {
		cb = &clientBucket{bucket: NewTokenBucket(int64(l.burst), float64(l.perSecond))}
		l.buckets[ip] = cb
	}
	cb.lastSeen = time.Now()
	l.mu.Unlock()

	return cb.bucket.Allow()
}

// StartReaper begins the periodic sweep of stale buckets. It is a no-op if
// the reaper is already running.
func (l *IPLimiter) StartReaper() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		return
	}
	l.cron = cron.New()
	if _, err := l.cron.AddFunc(reapSchedule, l.reap); err != nil {
		// The schedule is a compile-time constant; this cannot fail.
		slog.Error("failed to schedule rate limiter reaper", "error", err)
		l.cron = nil
		return
	}
	l.cron.Start()
}

// StopReaper stops the sweep. Outstanding buckets remain usable.
func (l *IPLimiter) StopReaper() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		l.cron.Stop()
		l.cron = nil
	}
}

func (l *IPLimiter) reap() {
	cutoff := time.Now().Add(-staleAfter)

	l.mu.Lock()
	removed := 0
	for ip, cb := range l.buckets {
		if cb.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
			removed++
		}
	}
	remaining := len(l.buckets)
	l.mu.Unlock()

	if removed > 0 {
		slog.Debug("reaped stale rate limiter buckets",
			"removed", removed,
			"remaining", remaining,
		)
	}
}

// clientIP strips the port from a host:port remote address. Addresses
// without a port are returned unchanged.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
