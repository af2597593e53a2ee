package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

func TestAggregatorDerivesMisses(t *testing.T) {
	ctx := context.Background()
	reg := observability.NewMockMetricsRegistry()
	a := NewAggregator(db.NewMemoryCache(time.Minute), reg, zap.NewNop(), 0)

	a.RecordEvaluation(ctx, true, true, true)
	a.RecordEvaluation(ctx, false, true, false)
	a.RecordEvaluation(ctx, false, false, false)

	got, err := a.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{
		TotalEvaluations: 3,
		CacheHits:        1,
		CacheMisses:      2,
		RuleMatches:      2,
		ActionTriggers:   1,
		CacheHitRate:     1.0 / 3.0,
	}, got)
	assert.Equal(t, 1, reg.Count("evaluations:cached"))
	assert.Equal(t, 2, reg.Count("evaluations:computed"))
	assert.Equal(t, 2, reg.Count("rule_matches"))
}

func TestAggregatorEmpty(t *testing.T) {
	a := NewAggregator(db.NewMemoryCache(time.Minute), nil, nil, 0)
	got, err := a.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, got)
}

func TestAggregatorSharedAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)
	newAgg := func() *Aggregator {
		store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
		return NewAggregator(store, nil, nil, time.Second)
	}
	a, b := newAgg(), newAgg()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.RecordEvaluation(ctx, true, false, false) }()
		go func() { defer wg.Done(); b.RecordEvaluation(ctx, false, false, false) }()
	}
	wg.Wait()

	got, err := a.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.TotalEvaluations)
	assert.Equal(t, int64(20), got.CacheHits)
	assert.Equal(t, int64(20), got.CacheMisses)
}

type failingStore struct{}

func (failingStore) IncrementCounters(context.Context, string, map[string]int64) error {
	return errors.New("down")
}

func (failingStore) Counters(context.Context, string) (map[string]int64, error) {
	return nil, errors.New("down")
}

func TestAggregatorStoreFailureDoesNotPanic(t *testing.T) {
	reg := observability.NewMockMetricsRegistry()
	a := NewAggregator(failingStore{}, reg, zap.NewNop(), time.Second)

	assert.NotPanics(t, func() { a.RecordEvaluation(context.Background(), true, false, false) })
	assert.Equal(t, 1, reg.Count("dependency_errors:metrics_store"))

	_, err := a.GetMetrics(context.Background())
	assert.Error(t, err)
}
