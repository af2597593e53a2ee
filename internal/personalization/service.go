// Package personalization orchestrates rule evaluation and recommendation
// ranking behind a read-through cache.
package personalization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/logic"
	"github.com/patrickwarner/openpersonalize/internal/logic/ranking"
	"github.com/patrickwarner/openpersonalize/internal/logic/rules"
	"github.com/patrickwarner/openpersonalize/internal/metrics"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

// Dependency targets reported in DependencyError.
const (
	TargetCache        = "cache"
	TargetRuleStore    = "rule_store"
	TargetCatalogStore = "catalog_store"
)

// Cache is a TTL key-value store. Get returns db.ErrCacheMiss for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	TTL          time.Duration
	Timeout      time.Duration
	EpochTTL     time.Duration
	ContentLimit int
	ServiceLimit int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 300 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.EpochTTL <= 0 {
		o.EpochTTL = 24 * time.Hour
	}
	if o.ContentLimit <= 0 {
		o.ContentLimit = 5
	}
	if o.ServiceLimit <= 0 {
		o.ServiceLimit = 3
	}
	return o
}

// Deps are the collaborators owned by the process bootstrap.
type Deps struct {
	Rules    models.RuleStore
	Catalog  models.CatalogStore
	Cache    Cache
	Metrics  *metrics.Aggregator
	Registry observability.MetricsRegistry
	Logger   *zap.Logger
	Now      func() time.Time
}

// Service evaluates personalization requests. It keeps no mutable state of
// its own; everything shared lives in the cache and the stores.
type Service struct {
	rules    models.RuleStore
	catalog  models.CatalogStore
	cache    Cache
	agg      *metrics.Aggregator
	registry observability.MetricsRegistry
	logger   *zap.Logger
	engine   *rules.Engine
	ranker   *ranking.Ranker
	now      func() time.Time
	opts     Options
}

// NewService wires a Service from its dependencies.
func NewService(d Deps, opts Options) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Registry == nil {
		d.Registry = observability.NewNoOpRegistry()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewAggregator(db.NewMemoryCache(time.Hour), d.Registry, d.Logger, 0)
	}
	return &Service{
		rules:    d.Rules,
		catalog:  d.Catalog,
		cache:    d.Cache,
		agg:      d.Metrics,
		registry: d.Registry,
		logger:   d.Logger,
		engine:   rules.NewEngineWithClock(d.Now),
		ranker:   ranking.NewRankerWithClock(d.Now),
		now:      d.Now,
		opts:     opts.withDefaults(),
	}
}

// Metrics exposes the aggregator the service records into.
func (s *Service) Metrics() *metrics.Aggregator { return s.agg }

// Evaluate runs the active rules against uc and attaches the persona's
// recommendations, serving from cache when possible.
func (s *Service) Evaluate(ctx context.Context, uc models.UserContext) (*models.PersonalizationResult, error) {
	ctx, span := observability.Tracer("personalization").Start(ctx, "Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("persona", string(uc.Persona)),
		attribute.String("engagement_level", string(uc.EngagementLevel)),
	)

	epoch, err := s.epoch(ctx)
	if err != nil {
		return nil, s.fail(span, err)
	}
	key := evalKey(epoch, contextHash(uc))

	var cached models.PersonalizationResult
	hit, err := s.readCache(ctx, "evaluation", key, &cached)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if hit {
		cached.CacheHit = true
		s.record(ctx, &cached)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return &cached, nil
	}

	res, err := s.compute(ctx, epoch, uc, nil)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.writeCache(ctx, key, res, s.opts.TTL); err != nil {
		return nil, s.fail(span, err)
	}
	s.record(ctx, res)
	span.SetAttributes(attribute.Bool("cache_hit", false), attribute.Int("actions", len(res.Actions)))
	return res, nil
}

// EvaluateDebug computes a fresh result with a per-rule trace. It reads
// rules and recommendations through the cache but never stores the result
// and is not counted in evaluation metrics.
func (s *Service) EvaluateDebug(ctx context.Context, uc models.UserContext) (*models.PersonalizationResult, *rules.EvaluationTrace, error) {
	epoch, err := s.epoch(ctx)
	if err != nil {
		return nil, nil, err
	}
	trace := &rules.EvaluationTrace{}
	res, err := s.compute(ctx, epoch, uc, trace)
	if err != nil {
		return nil, nil, err
	}
	return res, trace, nil
}

func (s *Service) compute(ctx context.Context, epoch string, uc models.UserContext, trace *rules.EvaluationTrace) (*models.PersonalizationResult, error) {
	var (
		active  []models.PersonalizationRule
		content []models.RecommendationScore
		service []models.RecommendationScore
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = s.activeRules(gctx, epoch)
		return err
	})
	g.Go(func() error {
		var err error
		content, err = s.GetContentRecommendations(gctx, uc)
		return err
	})
	g.Go(func() error {
		var err error
		service, err = s.GetServiceRecommendations(gctx, uc)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out rules.Outcome
	if trace != nil {
		var t *rules.EvaluationTrace
		out, t = s.engine.EvaluateWithTrace(active, uc)
		*trace = *t
	} else {
		out = s.engine.Run(active, uc)
	}
	matched := out.MatchedRuleIDs
	if matched == nil {
		matched = []string{}
	}
	return &models.PersonalizationResult{
		Actions:         out.Actions,
		Recommendations: models.Recommendations{Content: content, Service: service},
		MatchedRules:    matched,
		RulesEpoch:      epoch,
	}, nil
}

func (s *Service) record(ctx context.Context, res *models.PersonalizationResult) {
	for _, a := range res.Actions {
		s.registry.IncrementActionTriggers(string(a.Type()))
	}
	s.agg.RecordEvaluation(ctx, res.CacheHit, len(res.MatchedRules) > 0, len(res.Actions) > 0)
}

// GetContentRecommendations returns the ranked content list for the
// context's persona and engagement level.
func (s *Service) GetContentRecommendations(ctx context.Context, uc models.UserContext) ([]models.RecommendationScore, error) {
	return s.recommendations(ctx, models.KindContent, uc, s.opts.ContentLimit)
}

// GetServiceRecommendations returns the ranked service list for the
// context's persona and engagement level.
func (s *Service) GetServiceRecommendations(ctx context.Context, uc models.UserContext) ([]models.RecommendationScore, error) {
	return s.recommendations(ctx, models.KindService, uc, s.opts.ServiceLimit)
}

func (s *Service) recommendations(ctx context.Context, kind models.CatalogKind, uc models.UserContext, limit int) ([]models.RecommendationScore, error) {
	key := recsKey(kind, uc.Persona, uc.EngagementLevel)
	var cached []models.RecommendationScore
	hit, err := s.readCache(ctx, "recommendations_"+string(kind), key, &cached)
	if err != nil {
		return nil, err
	}
	if hit {
		return cached, nil
	}

	ranked, err := s.Rank(ctx, kind, ranking.ProfileFor(uc.Persona, uc.EngagementLevel), limit)
	if err != nil {
		return nil, err
	}
	if err := s.writeCache(ctx, key, ranked, s.opts.TTL); err != nil {
		return nil, err
	}
	return ranked, nil
}

// Rank scores the full active catalog of kind against an explicit profile.
// Results are not cached since profiles carry per-user history.
func (s *Service) Rank(ctx context.Context, kind models.CatalogKind, profile models.UserBehavior, limit int) ([]models.RecommendationScore, error) {
	items, err := s.loadCatalog(ctx, kind)
	if err != nil {
		return nil, err
	}
	ranked := s.ranker.Rank(items, profile, limit)
	s.registry.RecordRecommendations(string(kind), len(ranked))
	return ranked, nil
}

func (s *Service) loadCatalog(ctx context.Context, kind models.CatalogKind) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	op := "list_" + string(kind)
	err := s.call(ctx, TargetCatalogStore, op, func(ctx context.Context) error {
		var err error
		if kind == models.KindService {
			items, err = s.catalog.ListServices(ctx, models.CatalogFilter{})
		} else {
			items, err = s.catalog.ListContent(ctx, models.CatalogFilter{})
		}
		return err
	})
	return items, err
}

// ListRules returns the active rules in evaluation order through the cache.
func (s *Service) ListRules(ctx context.Context) ([]models.PersonalizationRule, error) {
	epoch, err := s.epoch(ctx)
	if err != nil {
		return nil, err
	}
	return s.activeRules(ctx, epoch)
}

func (s *Service) activeRules(ctx context.Context, epoch string) ([]models.PersonalizationRule, error) {
	key := rulesKey(epoch)
	var cached []models.PersonalizationRule
	hit, err := s.readCache(ctx, "rules", key, &cached)
	if err != nil {
		return nil, err
	}
	if hit {
		return cached, nil
	}

	var active []models.PersonalizationRule
	err = s.call(ctx, TargetRuleStore, "list_active_rules", func(ctx context.Context) error {
		var err error
		active, err = s.rules.ListActiveRules(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	active = rules.SortRules(active)
	if err := s.writeCache(ctx, key, active, s.opts.TTL); err != nil {
		return nil, err
	}
	return active, nil
}

// ListAllRules returns every stored rule, including inactive ones. It always
// reads the store.
func (s *Service) ListAllRules(ctx context.Context) ([]models.PersonalizationRule, error) {
	var all []models.PersonalizationRule
	err := s.call(ctx, TargetRuleStore, "list_rules", func(ctx context.Context) error {
		var err error
		all, err = s.rules.ListRules(ctx)
		return err
	})
	return all, err
}

// GetRule returns the rule with id or models.ErrNotFound.
func (s *Service) GetRule(ctx context.Context, id string) (*models.PersonalizationRule, error) {
	var rule *models.PersonalizationRule
	err := s.call(ctx, TargetRuleStore, "get_rule", func(ctx context.Context) error {
		var err error
		rule, err = s.rules.GetRule(ctx, id)
		return err
	})
	return rule, err
}

// CreateRule validates and stores a new rule, then invalidates the rules
// cache before returning.
func (s *Service) CreateRule(ctx context.Context, rule models.PersonalizationRule) (*models.PersonalizationRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := s.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	err := s.call(ctx, TargetRuleStore, "insert_rule", func(ctx context.Context) error {
		return s.rules.InsertRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	if err := s.invalidateRules(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("rule created", zap.String("rule_id", rule.ID), zap.Int("priority", rule.Priority))
	return &rule, nil
}

// UpdateRule replaces an existing rule, keeping its creation time, then
// invalidates the rules cache.
func (s *Service) UpdateRule(ctx context.Context, rule models.PersonalizationRule) (*models.PersonalizationRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now().UTC()

	err = s.call(ctx, TargetRuleStore, "update_rule", func(ctx context.Context) error {
		return s.rules.UpdateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	if err := s.invalidateRules(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("rule updated", zap.String("rule_id", rule.ID))
	return &rule, nil
}

// DeleteRule removes a rule and invalidates the rules cache.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	err := s.call(ctx, TargetRuleStore, "delete_rule", func(ctx context.Context) error {
		return s.rules.DeleteRule(ctx, id)
	})
	if err != nil {
		return err
	}
	if err := s.invalidateRules(ctx); err != nil {
		return err
	}
	s.logger.Info("rule deleted", zap.String("rule_id", id))
	return nil
}

// InvalidateAll drops every personalization key, including cached
// recommendations. It returns the number of keys removed.
func (s *Service) InvalidateAll(ctx context.Context) (int64, error) {
	var n int64
	err := s.call(ctx, TargetCache, "delete_by_prefix", func(ctx context.Context) error {
		var err error
		n, err = s.cache.DeleteByPrefix(ctx, KeyPrefix)
		return err
	})
	if err == nil {
		s.logger.Info("personalization cache flushed", zap.Int64("keys", n))
	}
	return n, err
}

// InvalidateRules rotates the rules epoch after the rule store changed
// outside this service, for example after a snapshot reload.
func (s *Service) InvalidateRules(ctx context.Context) error {
	return s.invalidateRules(ctx)
}

// invalidateRules deletes the cached rule list for the current epoch and
// rotates the epoch so cached evaluations computed against the old rule set
// are never served again.
func (s *Service) invalidateRules(ctx context.Context) error {
	prev, err := s.epoch(ctx)
	if err != nil {
		return err
	}
	return s.call(ctx, TargetCache, "invalidate_rules", func(ctx context.Context) error {
		if err := s.cache.Delete(ctx, rulesKey(prev)); err != nil {
			return err
		}
		return s.cache.SetWithTTL(ctx, epochKey, []byte(uuid.NewString()), s.opts.EpochTTL)
	})
}

// epoch returns the current rule-set generation, creating one when absent.
// Two processes racing to create it only cost one round of cache misses.
func (s *Service) epoch(ctx context.Context) (string, error) {
	var epoch string
	err := s.call(ctx, TargetCache, "get_epoch", func(ctx context.Context) error {
		b, err := s.cache.Get(ctx, epochKey)
		if errors.Is(err, db.ErrCacheMiss) {
			epoch = uuid.NewString()
			return s.cache.SetWithTTL(ctx, epochKey, []byte(epoch), s.opts.EpochTTL)
		}
		if err != nil {
			return err
		}
		epoch = string(b)
		return nil
	})
	return epoch, err
}

// readCache loads key into out. A miss returns (false, nil); an unreadable
// entry is logged and treated as a miss.
func (s *Service) readCache(ctx context.Context, name, key string, out any) (bool, error) {
	var raw []byte
	err := s.call(ctx, TargetCache, "get", func(ctx context.Context) error {
		var err error
		raw, err = s.cache.Get(ctx, key)
		return err
	})
	switch {
	case errors.Is(err, db.ErrCacheMiss):
		s.registry.IncrementCacheResult(name, "miss")
		return false, nil
	case err != nil:
		s.registry.IncrementCacheResult(name, "error")
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		s.registry.IncrementCacheResult(name, "miss")
		return false, nil
	}
	s.registry.IncrementCacheResult(name, "hit")
	return true, nil
}

func (s *Service) writeCache(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.call(ctx, TargetCache, "set", func(ctx context.Context) error {
		return s.cache.SetWithTTL(ctx, key, b, ttl)
	})
}

// call runs fn under the dependency timeout. Misses, not-found and conflict
// results pass through unchanged; any other failure becomes a DependencyError.
func (s *Service) call(ctx context.Context, target, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	err := fn(ctx)
	if err == nil || errors.Is(err, db.ErrCacheMiss) || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
		return err
	}
	s.registry.IncrementDependencyErrors(target)
	s.logger.Error("dependency call failed",
		zap.String("target", target),
		zap.String("op", op),
		zap.Error(err),
	)
	return logic.NewDependencyError(target, op, err)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
