package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickwarner/openpersonalize/internal/observability"
)

// KeyedLimiter keeps one token bucket per key (a user or client id), created
// lazily on first access. Metrics are labelled by the limiter's scope rather
// than by key to keep label cardinality bounded.
//
//	limiter := NewKeyedLimiter("interactions", Config{Capacity: 100, RefillRate: 10, Enabled: true}, metrics)
//	if !limiter.Allow(userID) {
//	    // reject with 429
//	}
type KeyedLimiter struct {
	scope   string
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // Token bucket capacity (burst allowance)
	RefillRate int  // Tokens added per second (sustained rate)
	Enabled    bool // Whether rate limiting is active
}

// NewKeyedLimiter creates a limiter for the named scope.
func NewKeyedLimiter(scope string, config Config, metrics observability.MetricsRegistry) *KeyedLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &KeyedLimiter{
		scope:   scope,
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed. It always returns
// true when the limiter is disabled.
func (kl *KeyedLimiter) Allow(key string) bool {
	if !kl.config.Enabled {
		return true
	}
	kl.metrics.IncrementRateLimitRequests(kl.scope)

	kl.mu.RLock()
	bucket, exists := kl.buckets[key]
	kl.mu.RUnlock()

	if !exists {
		kl.mu.Lock()
		bucket, exists = kl.buckets[key]
		if !exists {
			bucket = newTokenBucket(kl.config.Capacity, kl.config.RefillRate, kl.now)
			kl.buckets[key] = bucket
		}
		kl.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		kl.metrics.IncrementRateLimitHits(kl.scope)
	}
	return allowed
}

// Prune drops buckets unused for longer than idle and returns how many were
// removed. A dropped bucket is recreated full on the key's next request.
func (kl *KeyedLimiter) Prune(idle time.Duration) int {
	cutoff := kl.now().Add(-idle)
	kl.mu.Lock()
	defer kl.mu.Unlock()
	removed := 0
	for key, bucket := range kl.buckets {
		if bucket.idleSince().Before(cutoff) {
			delete(kl.buckets, key)
			removed++
		}
	}
	return removed
}

// GetStats returns a snapshot of per-key statistics.
func (kl *KeyedLimiter) GetStats() map[string]RateLimitStats {
	kl.mu.RLock()
	defer kl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(kl.buckets))
	for key, bucket := range kl.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[key] = RateLimitStats{Key: key, Hits: hits, Total: total, HitRate: hitRate}
	}
	return stats
}

// RateLimitStats contains statistics about rate limiting for a single key.
type RateLimitStats struct {
	Key     string  `json:"key"`
	Hits    int64   `json:"hits"`     // Number of rate limited requests
	Total   int64   `json:"total"`    // Total number of requests processed
	HitRate float64 `json:"hit_rate"` // Fraction of requests rate limited (0.0-1.0)
}

func (rls RateLimitStats) String() string {
	return fmt.Sprintf("%s: %d/%d limited (%.2f%%)", rls.Key, rls.Hits, rls.Total, rls.HitRate*100)
}
