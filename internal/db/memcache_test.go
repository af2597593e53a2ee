package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheContract(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	val := []byte("v")
	require.NoError(t, c.SetWithTTL(ctx, "p:k", val, time.Minute))
	val[0] = 'x' // stored copy is isolated
	got, err := c.Get(ctx, "p:k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.SetWithTTL(ctx, "p:k2", []byte("v"), time.Minute))
	require.NoError(t, c.SetWithTTL(ctx, "q:k", []byte("v"), time.Minute))
	n, err := c.DeleteByPrefix(ctx, "p:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.Delete(ctx, "q:k"))
	_, err = c.Get(ctx, "q:k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewMemoryCache(time.Minute)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryCacheCounters(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	require.NoError(t, c.IncrementCounters(ctx, "m", map[string]int64{"a": 2}))
	require.NoError(t, c.IncrementCounters(ctx, "m", map[string]int64{"a": 1, "b": 1}))
	got, err := c.Counters(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 3, "b": 1}, got)
}
