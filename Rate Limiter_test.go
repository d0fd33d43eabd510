package core

import (
	"testing"
	"time"
)

// fakeClock advances manually.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestRateLimiterBucket(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := NewRateLimiter(5, 1, 3*time.Second)
	limiter.timeNow = func() time.Time { return clock.now }

	// The full bucket admits exactly 5 sends.
	for n := 0; n < 5; n++ {
		if !limiter.TryConsume("ch") {
			t.Fatalf("send %d rejected with tokens available", n)
		}
	}

	// The 6th finds the bucket empty and starts the cooldown.
	if limiter.TryConsume("ch") {
		t.Fatal("send accepted with empty bucket")
	}

	// During the cooldown everything is rejected, refill does not help.
	clock.advance(2 * time.Second)
	if limiter.TryConsume("ch") {
		t.Fatal("send accepted during cooldown")
	}

	// After the cooldown the refilled tokens admit again.
	clock.advance(2 * time.Second)
	if !limiter.TryConsume("ch") {
		t.Fatal("send rejected after cooldown with refilled tokens")
	}
}

func TestRateLimiterChannelsIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := NewRateLimiter(1, 1, 3*time.Second)
	limiter.timeNow = func() time.Time { return clock.now }

	if !limiter.TryConsume("a") {
		t.Fatal("first send on a rejected")
	}
	if limiter.TryConsume("a") {
		t.Fatal("second send on a accepted")
	}
	if !limiter.TryConsume("b") {
		t.Fatal("channel b throttled by channel a")
	}
}

// TestRateLimiterSteadyState: over a window of length T the accepted count is
// bounded by B + T*R.
func TestRateLimiterSteadyState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := NewRateLimiter(5, 1, 3*time.Second)
	limiter.timeNow = func() time.Time { return clock.now }

	accepted := 0
	const window = 60 // seconds
	for n := 0; n < window*10; n++ {
		if limiter.TryConsume("ch") {
			accepted++
		}
		clock.advance(100 * time.Millisecond)
	}

	if limit := 5 + window*1; accepted > limit {
		t.Fatalf("accepted %d sends in %ds, bound is %d", accepted, window, limit)
	}
	if accepted == 0 {
		t.Fatal("steady state accepted nothing")
	}
}
