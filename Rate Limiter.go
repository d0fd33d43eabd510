/*
File Name:  Rate Limiter.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Per-channel token bucket. An attempt that finds less than one token in the
bucket starts a cooldown during which every attempt is rejected without
refilling consideration.
*/

package core

import (
	"sync"
	"time"
)

type rateBucket struct {
	tokens        float64
	lastRefill    time.Time
	cooldownUntil time.Time
}

// RateLimiter is a token bucket per channel.
type RateLimiter struct {
	buckets map[string]*rateBucket

	capacity float64       // bucket size
	refill   float64       // tokens per second
	cooldown time.Duration // penalty after exhaustion

	timeNow func() time.Time // test hook
	sync.Mutex
}

// NewRateLimiter creates a limiter with the given bucket size, refill rate and cooldown.
func NewRateLimiter(capacity float64, refill float64, cooldown time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*rateBucket),
		capacity: capacity,
		refill:   refill,
		cooldown: cooldown,
		timeNow:  time.Now,
	}
}

// TryConsume takes one token from the channel's bucket. It reports false while
// the channel is in cooldown or the bucket is empty.
func (limiter *RateLimiter) TryConsume(channel string) bool {
	limiter.Lock()
	defer limiter.Unlock()

	now := limiter.timeNow()

	bucket, ok := limiter.buckets[channel]
	if !ok {
		bucket = &rateBucket{tokens: limiter.capacity, lastRefill: now}
		limiter.buckets[channel] = bucket
	}

	if now.Before(bucket.cooldownUntil) {
		return false
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * limiter.refill
	if bucket.tokens > limiter.capacity {
		bucket.tokens = limiter.capacity
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		bucket.cooldownUntil = time.Time{}
		return true
	}

	bucket.cooldownUntil = now.Add(limiter.cooldown)
	return false
}
