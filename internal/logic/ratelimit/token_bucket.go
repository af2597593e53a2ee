// Package ratelimit implements token bucket rate limiting for interaction
// capture and other per-client write paths.
//
// The token bucket algorithm allows bursts up to the bucket capacity while
// holding the sustained rate to the refill rate.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe token bucket rate limiter.
//
// The bucket has a fixed capacity and refills at a constant rate.
// Each request consumes one token. When the bucket is empty,
// requests are rejected until tokens refill.
type TokenBucket struct {
	capacity   int              // Maximum number of tokens the bucket can hold
	tokens     int              // Current number of tokens in the bucket
	refillRate int              // Number of tokens added per second
	lastRefill time.Time        // Last time tokens were added to the bucket
	lastUsed   time.Time        // Last time Allow was called
	now        func() time.Time // Clock source
	mu         sync.Mutex       // Protects all bucket state
	hitCount   int64            // Number of requests that were rate limited
	totalCount int64            // Total number of requests processed
}

// NewTokenBucket creates a full bucket with the given capacity and refill
// rate in tokens per second.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int, now func() time.Time) *TokenBucket {
	t := now()
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: t,
		lastUsed:   t,
		now:        now,
	}
}

// Allow consumes one token, refilling first for the time elapsed since the
// last refill. It returns false when the bucket is empty.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.totalCount++
	now := tb.now()
	tb.lastUsed = now

	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	tb.hitCount++
	return false
}

// Stats returns how many requests were limited and how many were seen.
func (tb *TokenBucket) Stats() (hits, total int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.hitCount, tb.totalCount
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}
