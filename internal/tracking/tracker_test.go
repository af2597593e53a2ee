package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/analytics"
	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/logic"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

var trackNow = time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)

func setupTracker(t *testing.T, opts Options) (*Tracker, *miniredis.Miniredis, *analytics.MockAnalytics, *observability.MockMetricsRegistry) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})}
	sink := analytics.NewMockAnalytics()
	reg := observability.NewMockMetricsRegistry()
	tr := New(store, sink, reg, zap.NewNop(), opts)
	tr.now = func() time.Time { return trackNow }
	return tr, mr, sink, reg
}

func record(t *testing.T, tr *Tracker, ev models.InteractionEvent) {
	t.Helper()
	require.NoError(t, tr.Record(context.Background(), ev))
}

func TestTrackIsAsyncAndDrainsOnClose(t *testing.T) {
	tr, _, sink, reg := setupTracker(t, Options{})

	id := tr.Track(context.Background(), models.InteractionEvent{UserID: "u-1", EventType: models.EventPageView})
	assert.NotEmpty(t, id)
	tr.Close()

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, trackNow, events[0].Timestamp)
	assert.Equal(t, 1, reg.Count("interactions:page_view"))

	tr.Track(context.Background(), models.InteractionEvent{UserID: "u-1", EventType: models.EventPageView})
	assert.Equal(t, 1, reg.Count("interaction_errors:closed"))
	assert.ErrorIs(t, tr.Record(context.Background(), models.InteractionEvent{UserID: "u-1"}), ErrClosed)
}

func TestTrackSurvivesCanceledRequest(t *testing.T) {
	tr, _, sink, _ := setupTracker(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	tr.Track(ctx, models.InteractionEvent{UserID: "u-1", EventType: models.EventDownload, ResourceID: "guide-1"})
	cancel()
	tr.Close()

	assert.Len(t, sink.Events(), 1)
	ris, err := tr.ResourceInteractions(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, ris, 1)
	assert.Equal(t, int64(1), ris[0].Downloads)
}

func TestBehaviorFromHistory(t *testing.T) {
	tr, _, _, _ := setupTracker(t, Options{HistoryLength: 2})
	for _, ev := range []models.InteractionEvent{
		{UserID: "u-1", EventType: models.EventResourceView, ResourceID: "a", Category: "tax_strategy", Format: "guide", Persona: models.PersonaFamilyBusiness},
		{UserID: "u-1", EventType: models.EventResourceView, ResourceID: "b", Category: "financing", Format: "video"},
		{UserID: "u-1", EventType: models.EventResourceView, ResourceID: "c", Category: "exit_planning", Format: "guide"},
		{UserID: "u-1", EventType: models.EventResourceView, ResourceID: "a", Category: "tax_strategy", Format: "guide"},
		{UserID: "u-1", EventType: models.EventResourceComplete, ResourceID: "c"},
		{UserID: "u-1", EventType: models.EventResourceComplete, ResourceID: "a"},
	} {
		record(t, tr, ev)
	}

	b, err := tr.Behavior(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.PersonaFamilyBusiness, b.Persona)
	assert.Equal(t, []string{"tax_strategy", "exit_planning"}, b.RecentCategories)
	assert.Equal(t, []string{"guide", "video"}, b.PreferredFormats)
	assert.Equal(t, []string{"a", "c"}, b.CompletedResources)
}

func TestBehaviorUnknownUser(t *testing.T) {
	tr, _, _, _ := setupTracker(t, Options{})
	b, err := tr.Behavior(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", b.UserID)
	assert.Empty(t, b.Persona)
	assert.Empty(t, b.RecentCategories)
}

func TestResourceInteractionCounters(t *testing.T) {
	tr, _, _, _ := setupTracker(t, Options{})
	meta := map[string]string{"persona_fit": "strategic_exit"}
	for _, ev := range []models.InteractionEvent{
		{UserID: "u-1", EventType: models.EventResourceView, ResourceID: "calc", Category: "valuation_calculator", Metadata: meta},
		{UserID: "u-1", EventType: models.EventResourceView, ResourceID: "calc"},
		{UserID: "u-1", EventType: models.EventPreview, ResourceID: "calc"},
		{UserID: "u-1", EventType: models.EventVideoProgress, ResourceID: "calc", Value: 60},
		{UserID: "u-1", EventType: models.EventVideoProgress, ResourceID: "calc", Value: 40},
		{UserID: "u-1", EventType: models.EventTimeSpent, ResourceID: "calc", Value: 95},
		{UserID: "u-1", EventType: models.EventTimeSpent, ResourceID: "calc", Value: 30},
		{UserID: "u-1", EventType: models.EventDownload, ResourceID: "book", Category: "exit_planning"},
		{UserID: "u-1", EventType: models.EventVideoProgress, ResourceID: "book", Value: 250},
	} {
		record(t, tr, ev)
	}

	ris, err := tr.ResourceInteractions(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []models.ResourceInteraction{
		{ResourceID: "book", Category: "exit_planning", Downloads: 1, VideoProgress: 100},
		{
			ResourceID:       "calc",
			Category:         "valuation_calculator",
			PersonaFit:       models.PersonaStrategicExit,
			Views:            2,
			Previews:         1,
			VideoProgress:    60,
			TimeSpentSeconds: 125,
		},
	}, ris)

	none, err := tr.ResourceInteractions(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestContextFillsMissingFields(t *testing.T) {
	tr, _, _, _ := setupTracker(t, Options{})
	for i := 0; i < 6; i++ {
		record(t, tr, models.InteractionEvent{UserID: "u-1", EventType: models.EventPageView, Category: "financing", Persona: models.PersonaDistressedSeller})
	}

	uc, err := tr.Context(context.Background(), models.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 6, uc.InteractionCount)
	assert.Equal(t, trackNow, uc.LastVisit)
	assert.Equal(t, models.PersonaDistressedSeller, uc.Persona)
	assert.Equal(t, models.VisitorReturning, uc.VisitorType)
	assert.Equal(t, models.EngagementMedium, uc.EngagementLevel)
	assert.Equal(t, []string{"financing"}, uc.Interests)

	explicit, err := tr.Context(context.Background(), models.UserContext{
		UserID: "u-1", Persona: models.PersonaStrategicExit, EngagementLevel: models.EngagementHigh, InteractionCount: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PersonaStrategicExit, explicit.Persona)
	assert.Equal(t, models.EngagementHigh, explicit.EngagementLevel)
	assert.Equal(t, 40, explicit.InteractionCount)

	fresh, err := tr.Context(context.Background(), models.UserContext{UserID: "new-visitor"})
	require.NoError(t, err)
	assert.Equal(t, models.VisitorNew, fresh.VisitorType)
	assert.Equal(t, models.EngagementLow, fresh.EngagementLevel)
	assert.Zero(t, fresh.InteractionCount)
}

func TestStateOutageIsReportedNotPanicking(t *testing.T) {
	tr, mr, sink, reg := setupTracker(t, Options{Timeout: 200 * time.Millisecond})
	mr.Close()

	err := tr.Record(context.Background(), models.InteractionEvent{UserID: "u-1", EventType: models.EventDownload, ResourceID: "x"})
	require.Error(t, err)
	assert.True(t, logic.IsDependency(err))
	assert.Equal(t, 1, reg.Count("interaction_errors:state"))
	assert.Len(t, sink.Events(), 1, "sink still receives the event")
}

func TestSinkFailureDoesNotFailRecord(t *testing.T) {
	tr, _, sink, _ := setupTracker(t, Options{})
	sink.Err = errors.New("clickhouse down")
	assert.NoError(t, tr.Record(context.Background(), models.InteractionEvent{UserID: "u-1", EventType: models.EventPageView}))
}

func TestWithoutStateStore(t *testing.T) {
	tr := New(nil, analytics.NewMockAnalytics(), nil, nil, Options{})
	require.NoError(t, tr.Record(context.Background(), models.InteractionEvent{UserID: "u-1", EventType: models.EventPageView}))

	_, err := tr.Behavior(context.Background(), "u-1")
	assert.ErrorIs(t, err, ErrNoState)
	uc, err := tr.Context(context.Background(), models.UserContext{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, models.VisitorNew, uc.VisitorType)
}

func TestEngagementFor(t *testing.T) {
	assert.Equal(t, models.EngagementLow, EngagementFor(0))
	assert.Equal(t, models.EngagementLow, EngagementFor(4))
	assert.Equal(t, models.EngagementMedium, EngagementFor(5))
	assert.Equal(t, models.EngagementMedium, EngagementFor(19))
	assert.Equal(t, models.EngagementHigh, EngagementFor(20))
}
