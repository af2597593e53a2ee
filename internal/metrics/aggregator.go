// Package metrics aggregates personalization evaluation counters so that
// operators can read totals shared across every serving process.
package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/observability"
)

// CountersKey is where evaluation counters live in the counter store. It is
// kept outside the personalization cache namespace so cache flushes leave
// it intact.
const CountersKey = "metrics:personalization:evaluations"

const (
	fieldTotal          = "total_evaluations"
	fieldCacheHits      = "cache_hits"
	fieldRuleMatches    = "rule_matches"
	fieldActionTriggers = "action_triggers"
)

// CounterStore persists additive integer counters.
type CounterStore interface {
	IncrementCounters(ctx context.Context, key string, deltas map[string]int64) error
	Counters(ctx context.Context, key string) (map[string]int64, error)
}

// Snapshot is a point-in-time read of the evaluation counters.
type Snapshot struct {
	TotalEvaluations int64   `json:"total_evaluations"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	RuleMatches      int64   `json:"rule_matches"`
	ActionTriggers   int64   `json:"action_triggers"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
}

// Aggregator records evaluation outcomes into a CounterStore and mirrors
// them to the Prometheus registry.
type Aggregator struct {
	store    CounterStore
	registry observability.MetricsRegistry
	logger   *zap.Logger
	timeout  time.Duration
}

// NewAggregator wires an Aggregator. A zero timeout defaults to one second.
func NewAggregator(store CounterStore, registry observability.MetricsRegistry, logger *zap.Logger, timeout time.Duration) *Aggregator {
	if registry == nil {
		registry = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Aggregator{store: store, registry: registry, logger: logger, timeout: timeout}
}

// RecordEvaluation counts one evaluation. Failures to persist are logged and
// never returned; metrics must not fail the request that produced them.
func (a *Aggregator) RecordEvaluation(ctx context.Context, cached, ruleMatched, actionTriggered bool) {
	a.registry.IncrementEvaluations(cached)
	if ruleMatched {
		a.registry.IncrementRuleMatches()
	}

	deltas := map[string]int64{
		fieldTotal:          1,
		fieldCacheHits:      boolDelta(cached),
		fieldRuleMatches:    boolDelta(ruleMatched),
		fieldActionTriggers: boolDelta(actionTriggered),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.store.IncrementCounters(ctx, CountersKey, deltas); err != nil {
		a.registry.IncrementDependencyErrors("metrics_store")
		a.logger.Warn("failed to record evaluation metrics", zap.Error(err))
	}
}

// GetMetrics reads the current counters. CacheMisses is always derived from
// total minus hits.
func (a *Aggregator) GetMetrics(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	c, err := a.store.Counters(ctx, CountersKey)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		TotalEvaluations: c[fieldTotal],
		CacheHits:        c[fieldCacheHits],
		RuleMatches:      c[fieldRuleMatches],
		ActionTriggers:   c[fieldActionTriggers],
	}
	s.CacheMisses = max(s.TotalEvaluations-s.CacheHits, 0)
	if s.TotalEvaluations > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.TotalEvaluations)
	}
	return s, nil
}

func boolDelta(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
