package db

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process TTL cache for single-instance deployments and
// tests. It offers the same contract as the Redis cache and counter store.
type MemoryCache struct {
	c  *gocache.Cache
	mu sync.Mutex // serializes counter read-modify-write
}

// NewMemoryCache returns a cache whose expired entries are purged every cleanup interval.
func NewMemoryCache(cleanup time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(gocache.NoExpiration, cleanup)}
}

// Get returns the cached bytes for key, or ErrCacheMiss.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

// SetWithTTL stores a copy of value under key for ttl.
func (m *MemoryCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.c.Set(key, cp, ttl)
	return nil
}

// Delete removes keys.
func (m *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (m *MemoryCache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
			deleted++
		}
	}
	return deleted, nil
}

// IncrementCounters adds each delta to the named counter under key.
func (m *MemoryCache) IncrementCounters(ctx context.Context, key string, deltas map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters := m.countersLocked(key)
	for field, delta := range deltas {
		counters[field] += delta
	}
	m.c.Set(key, counters, gocache.NoExpiration)
	return nil
}

// Counters returns a copy of the counters under key.
func (m *MemoryCache) Counters(ctx context.Context, key string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.countersLocked(key)
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryCache) countersLocked(key string) map[string]int64 {
	if v, ok := m.c.Get(key); ok {
		if counters, ok := v.(map[string]int64); ok {
			return counters
		}
	}
	return make(map[string]int64)
}
