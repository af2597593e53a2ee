package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by cache Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// scanBatch bounds how many keys a single SCAN/DEL round trip handles.
const scanBatch = 200

// RedisStore wraps a redis client. It serves as the shared TTL cache, the
// counter store for evaluation metrics and the backing store for per-user
// interaction state.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Get returns the cached bytes for key, or ErrCacheMiss when absent.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// SetWithTTL stores value under key for ttl.
func (r *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix using SCAN so the
// server is never blocked by KEYS. Keys are collected before any DEL so the
// scan cursor never sees a keyspace it has already mutated. It returns the
// number of keys deleted.
func (r *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		page, next, err := r.Client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan %s*: %w", prefix, err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	var deleted int64
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := r.Client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis del %s*: %w", prefix, err)
		}
		deleted += n
	}
	return deleted, nil
}

// IncrementCounters adds each delta to its field of the hash at key in a
// single pipeline. Zero deltas are skipped.
func (r *RedisStore) IncrementCounters(ctx context.Context, key string, deltas map[string]int64) error {
	pipe := r.Client.Pipeline()
	queued := 0
	for field, delta := range deltas {
		if delta == 0 {
			continue
		}
		pipe.HIncrBy(ctx, key, field, delta)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hincrby %s: %w", key, err)
	}
	return nil
}

// Counters reads every integer field of the hash at key. A missing hash
// yields an empty map.
func (r *RedisStore) Counters(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := r.Client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			zap.L().Warn("ignoring non-integer counter", zap.String("key", key), zap.String("field", field))
			continue
		}
		out[field] = n
	}
	return out, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
