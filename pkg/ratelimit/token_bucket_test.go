package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketBurstThenRejects(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("Allow #%d rejected inside burst capacity", i)
		}
	}
	if tb.Allow() {
		t.Fatal("Allow admitted beyond burst capacity")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 100) // 100 tokens/s refill

	if !tb.Allow() {
		t.Fatal("fresh bucket rejected first request")
	}
	if tb.Allow() {
		t.Fatal("drained bucket admitted immediately")
	}

	time.Sleep(20 * time.Millisecond) // ~2 tokens accrue, capped at 1
	if !tb.Allow() {
		t.Fatal("bucket did not refill")
	}
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	tb := NewTokenBucket(2, 1000)
	time.Sleep(10 * time.Millisecond)

	if got := tb.Remaining(); got != 2 {
		t.Fatalf("Remaining = %d, want capped at capacity 2", got)
	}
}

func TestIPLimiterIsolatesClients(t *testing.T) {
	l := NewIPLimiter(1, 1)

	if !l.Allow("10.0.0.1:1234") {
		t.Fatal("first request from client A rejected")
	}
	if l.Allow("10.0.0.1:9999") {
		t.Fatal("second request from client A admitted past burst (port must not matter)")
	}
	if !l.Allow("10.0.0.2:1234") {
		t.Fatal("client B rejected though it has its own bucket")
	}
}

func TestIPLimiterReapsStaleBuckets(t *testing.T) {
	l := NewIPLimiter(1, 1)
	l.Allow("10.0.0.1:1234")
	l.Allow("10.0.0.2:1234")

	l.mu.Lock()
	l.buckets["10.0.0.1"].lastSeen = time.Now().Add(-2 * staleAfter)
	l.mu.Unlock()

	l.reap()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Fatal("stale bucket survived the sweep")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Fatal("fresh bucket was reaped")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.10:54321", "192.168.1.10"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		if got := clientIP(tt.in); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
