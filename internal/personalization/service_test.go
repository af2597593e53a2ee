package personalization

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/logic"
	"github.com/patrickwarner/openpersonalize/internal/metrics"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *models.InMemoryStore
	redis *miniredis.Miniredis
	reg   *observability.MockMetricsRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})}
	store := models.NewInMemoryStore()
	store.ReloadAll(nil, []models.CatalogItem{
		{ID: "guide-1", Kind: models.KindContent, Category: "exit_planning", Format: "guide", TargetPersonas: []models.Persona{models.PersonaStrategicExit}, Views: 100, Rating: 5, LastUpdated: fixedNow.AddDate(0, 0, -10), IsActive: true},
		{ID: "article-1", Kind: models.KindContent, Category: "financing", Format: "article", Views: 50, Rating: 3, IsActive: true},
	}, []models.CatalogItem{
		{ID: "svc-1", Kind: models.KindService, Category: "business_valuation", Format: "consultation", TargetPersonas: []models.Persona{models.PersonaStrategicExit}, Views: 10, Rating: 4, IsActive: true},
	})
	reg := observability.NewMockMetricsRegistry()
	svc := NewService(Deps{
		Rules:    store,
		Catalog:  store,
		Cache:    cache,
		Metrics:  metrics.NewAggregator(cache, reg, zap.NewNop(), time.Second),
		Registry: reg,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return fixedNow },
	}, Options{Timeout: time.Second})
	return &fixture{svc: svc, store: store, redis: mr, reg: reg}
}

func strategicExit() models.UserContext {
	return models.UserContext{
		UserID:           "u-1",
		Persona:          models.PersonaStrategicExit,
		EngagementLevel:  models.EngagementMedium,
		VisitorType:      models.VisitorReturning,
		InteractionCount: 4,
		LastVisit:        fixedNow.Add(-2 * time.Hour),
	}
}

func personaRule(name string, priority int, tag string) models.PersonalizationRule {
	return models.PersonalizationRule{
		Name:      name,
		Condition: models.PersonaCondition{Persona: models.PersonaStrategicExit},
		Action:    models.TagLeadAction{Tag: tag},
		Priority:  priority,
		IsActive:  true,
	}
}

func TestCreateRuleVisibleToNextEvaluate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.Empty(t, first.Actions)

	// Prime the cache so a stale entry would be served if invalidation failed.
	second, err := f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	created, err := f.svc.CreateRule(ctx, personaRule("exit intent", 10, "exit-ready"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, fixedNow, created.CreatedAt)

	res, err := f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, models.TagLeadAction{Tag: "exit-ready"}, res.Actions[0])
	assert.Equal(t, []string{created.ID}, res.MatchedRules)

	created.IsActive = false
	_, err = f.svc.UpdateRule(ctx, *created)
	require.NoError(t, err)
	res, err = f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.Empty(t, res.Actions)

	created.IsActive = true
	_, err = f.svc.UpdateRule(ctx, *created)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteRule(ctx, created.ID))
	res, err = f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
}

func TestEvaluateOrdersActionsByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, r := range []models.PersonalizationRule{
		{ID: "A", Name: "a", Condition: models.VisitorTypeCondition{Visitor: models.VisitorReturning}, Action: models.TagLeadAction{Tag: "a"}, Priority: 10, IsActive: true},
		{ID: "B", Name: "b", Condition: models.VisitorTypeCondition{Visitor: models.VisitorReturning}, Action: models.TagLeadAction{Tag: "b"}, Priority: 5, IsActive: true},
		{ID: "C", Name: "c", Condition: models.VisitorTypeCondition{Visitor: models.VisitorReturning}, Action: models.TagLeadAction{Tag: "c"}, Priority: 10, IsActive: true},
	} {
		_, err := f.svc.CreateRule(ctx, r)
		require.NoError(t, err)
	}

	res, err := f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, res.MatchedRules)

	cached, err := f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	assert.Equal(t, res.Actions, cached.Actions)
	assert.Equal(t, 6, f.reg.Count("actions:tag_lead"))
}

func TestEvaluateRecordsMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateRule(ctx, personaRule("exit intent", 1, "exit"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Evaluate(ctx, strategicExit())
		require.NoError(t, err)
	}
	other := strategicExit()
	other.Persona = models.PersonaFirstTimeSeller
	_, err = f.svc.Evaluate(ctx, other)
	require.NoError(t, err)

	snap, err := f.svc.Metrics().GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.TotalEvaluations)
	assert.Equal(t, int64(2), snap.CacheHits)
	assert.Equal(t, int64(2), snap.CacheMisses)
	assert.Equal(t, int64(3), snap.RuleMatches)
	assert.Equal(t, int64(3), snap.ActionTriggers)
}

func TestEvaluateSharesCacheAcrossUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := strategicExit()
	b := strategicExit()
	b.UserID = "u-2"
	b.Interests = []string{"tax"}

	_, err := f.svc.Evaluate(ctx, a)
	require.NoError(t, err)
	res, err := f.svc.Evaluate(ctx, b)
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
}

func TestRecommendationsExpireByTTLOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uc := strategicExit()

	recs, err := f.svc.GetContentRecommendations(ctx, uc)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "guide-1", recs[0].Item.ID)

	require.NoError(t, f.store.UpsertCatalogItem(ctx, models.CatalogItem{
		ID: "guide-2", Kind: models.KindContent, Category: "exit_planning", Format: "guide",
		TargetPersonas: []models.Persona{models.PersonaStrategicExit}, Views: 1000, Rating: 5,
		LastUpdated: fixedNow, IsActive: true,
	}))
	// Rule changes do not touch recommendation lists.
	_, err = f.svc.CreateRule(ctx, personaRule("noop", 1, "x"))
	require.NoError(t, err)

	stale, err := f.svc.GetContentRecommendations(ctx, uc)
	require.NoError(t, err)
	assert.Equal(t, ids(recs), ids(stale))

	f.redis.FastForward(301 * time.Second)
	fresh, err := f.svc.GetContentRecommendations(ctx, uc)
	require.NoError(t, err)
	assert.Equal(t, "guide-2", fresh[0].Item.ID)
}

func TestRecommendationsKeyedByPersonaAndEngagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetServiceRecommendations(ctx, strategicExit())
	require.NoError(t, err)
	assert.True(t, f.redis.Exists("personalization:recs:service:strategic_exit:medium"))

	high := strategicExit()
	high.EngagementLevel = models.EngagementHigh
	_, err = f.svc.GetServiceRecommendations(ctx, high)
	require.NoError(t, err)
	assert.True(t, f.redis.Exists("personalization:recs:service:strategic_exit:high"))
	assert.Equal(t, 2, f.reg.Count("cache:recommendations_service:miss"))
}

func TestCacheOutageIsDependencyError(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()

	_, err := f.svc.Evaluate(context.Background(), strategicExit())
	require.Error(t, err)
	var de *logic.DependencyError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, TargetCache, de.Target)
	assert.False(t, errors.Is(err, db.ErrCacheMiss))
	assert.Equal(t, 1, f.reg.Count("dependency_errors:cache"))
	assert.Zero(t, f.reg.Count("evaluations:computed"))
}

type slowRuleStore struct {
	*models.InMemoryStore
}

func (slowRuleStore) ListActiveRules(ctx context.Context) ([]models.PersonalizationRule, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeoutIsDependencyError(t *testing.T) {
	f := newFixture(t)
	svc := NewService(Deps{
		Rules:   slowRuleStore{f.store},
		Catalog: f.store,
		Cache:   db.NewMemoryCache(time.Minute),
	}, Options{Timeout: 20 * time.Millisecond})

	_, err := svc.Evaluate(context.Background(), strategicExit())
	var de *logic.DependencyError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, TargetRuleStore, de.Target)
	assert.Equal(t, "list_active_rules", de.Op)
	assert.True(t, de.Timeout())
}

func TestCreateRuleRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := personaRule("bad", 1, "x")
	bad.Condition = models.UnknownCondition{Kind: "geo_region"}
	_, err := f.svc.CreateRule(ctx, bad)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	noName := personaRule("", 1, "x")
	_, err = f.svc.CreateRule(ctx, noName)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	all, err := f.svc.ListAllRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateRuleDuplicateIDConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := personaRule("first", 5, "vip")
	first.ID = "A"
	created, err := f.svc.CreateRule(ctx, first)
	require.NoError(t, err)

	second := personaRule("second", 9, "other")
	second.ID = "A"
	_, err = f.svc.CreateRule(ctx, second)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.False(t, logic.IsDependency(err))

	stored, err := f.svc.GetRule(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Name)
	assert.Equal(t, models.TagLeadAction{Tag: "vip"}, stored.Action)
	assert.Equal(t, created.CreatedAt, stored.CreatedAt)
}

func TestUpdateAndDeleteMissingRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := personaRule("ghost", 1, "x")
	r.ID = "missing"
	_, err := f.svc.UpdateRule(ctx, r)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, logic.IsDependency(err))

	assert.ErrorIs(t, f.svc.DeleteRule(ctx, "missing"), models.ErrNotFound)
}

func TestUpdateRulePreservesCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateRule(ctx, personaRule("exit", 1, "x"))
	require.NoError(t, err)

	later := fixedNow.Add(time.Hour)
	f.svc.now = func() time.Time { return later }
	created.Priority = 7
	updated, err := f.svc.UpdateRule(ctx, *created)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, updated.CreatedAt)
	assert.Equal(t, later, updated.UpdatedAt)

	got, err := f.svc.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Priority)
}

func TestListRulesReadsThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateRule(ctx, personaRule("exit", 1, "x"))
	require.NoError(t, err)

	first, err := f.svc.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := f.svc.ListRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, f.reg.Count("cache:rules:hit"))
}

func TestInvalidateAllKeepsMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Evaluate(ctx, strategicExit())
	require.NoError(t, err)

	n, err := f.svc.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)
	for _, k := range f.redis.Keys() {
		assert.False(t, strings.HasPrefix(k, KeyPrefix), k)
	}

	snap, err := f.svc.Metrics().GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalEvaluations)
}

func TestEvaluateDebugTracesWithoutCaching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateRule(ctx, personaRule("exit", 5, "x"))
	require.NoError(t, err)
	_, err = f.svc.CreateRule(ctx, models.PersonalizationRule{
		Name: "heavy users", Condition: models.InteractionCountCondition{Min: 50},
		Action: models.TagLeadAction{Tag: "heavy"}, Priority: 1, IsActive: true,
	})
	require.NoError(t, err)

	res, trace, err := f.svc.EvaluateDebug(ctx, strategicExit())
	require.NoError(t, err)
	require.Len(t, trace.Steps, 2)
	assert.True(t, trace.Steps[0].Matched)
	assert.False(t, trace.Steps[1].Matched)
	assert.Len(t, res.Actions, 1)

	snap, err := f.svc.Metrics().GetMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalEvaluations)
}

func TestContextHashIgnoresIdentity(t *testing.T) {
	a := strategicExit()
	b := a
	b.UserID = "someone-else"
	b.Interests = []string{"valuation"}
	assert.Equal(t, contextHash(a), contextHash(b))

	c := a
	c.InteractionCount++
	assert.NotEqual(t, contextHash(a), contextHash(c))
}

func ids(recs []models.RecommendationScore) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Item.ID
	}
	return out
}
