package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// ErrNoState is returned when the tracker runs without a Redis state store.
var ErrNoState = errors.New("tracking state store not configured")

// Engagement thresholds on the tracked interaction count.
const (
	mediumEngagementAt = 5
	highEngagementAt   = 20
)

const preferredFormats = 3

const (
	fieldCount     = "interaction_count"
	fieldLastVisit = "last_visit"
	fieldFirstSeen = "first_seen"
	fieldPersona   = "persona"
)

// hmax stores ARGV[2] in hash field ARGV[1] only if it exceeds the current value.
var hmax = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local v = tonumber(ARGV[2])
if v > cur then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return 0
`)

func userKey(userID, part string) string {
	return fmt.Sprintf("tracking:user:%s:%s", userID, part)
}

func resourceKey(userID, resourceID string) string {
	return fmt.Sprintf("tracking:user:%s:resource:%s", userID, resourceID)
}

// applyState folds one interaction into the user's Redis state in a single
// pipeline.
func (t *Tracker) applyState(ctx context.Context, ev models.InteractionEvent) error {
	c := t.store.Client
	ttl := t.opts.StateTTL
	ts := ev.Timestamp.UnixMilli()

	pipe := c.Pipeline()
	profile := userKey(ev.UserID, "profile")
	pipe.HIncrBy(ctx, profile, fieldCount, 1)
	pipe.HSet(ctx, profile, fieldLastVisit, ts)
	pipe.HSetNX(ctx, profile, fieldFirstSeen, ts)
	if ev.Persona != "" {
		pipe.HSet(ctx, profile, fieldPersona, string(ev.Persona))
	}
	pipe.Expire(ctx, profile, ttl)

	if ev.Category != "" {
		cats := userKey(ev.UserID, "categories")
		pipe.LRem(ctx, cats, 0, ev.Category)
		pipe.LPush(ctx, cats, ev.Category)
		pipe.LTrim(ctx, cats, 0, int64(t.opts.HistoryLength-1))
		pipe.Expire(ctx, cats, ttl)
	}
	if ev.Format != "" {
		formats := userKey(ev.UserID, "formats")
		pipe.ZIncrBy(ctx, formats, 1, ev.Format)
		pipe.Expire(ctx, formats, ttl)
	}

	if ev.ResourceID != "" {
		resources := userKey(ev.UserID, "resources")
		pipe.SAdd(ctx, resources, ev.ResourceID)
		pipe.Expire(ctx, resources, ttl)

		rk := resourceKey(ev.UserID, ev.ResourceID)
		switch ev.EventType {
		case models.EventResourceView, models.EventPageView:
			pipe.HIncrBy(ctx, rk, "views", 1)
		case models.EventDownload:
			pipe.HIncrBy(ctx, rk, "downloads", 1)
		case models.EventPreview:
			pipe.HIncrBy(ctx, rk, "previews", 1)
		case models.EventVideoProgress:
			progress := strconv.FormatFloat(min(ev.Value, 100), 'f', -1, 64)
			hmax.Eval(ctx, pipe, []string{rk}, "video_progress", progress)
		case models.EventTimeSpent:
			pipe.HIncrBy(ctx, rk, "time_spent_seconds", int64(ev.Value))
		case models.EventResourceComplete:
			completed := userKey(ev.UserID, "completed")
			pipe.SAdd(ctx, completed, ev.ResourceID)
			pipe.Expire(ctx, completed, ttl)
		}
		if ev.Category != "" {
			pipe.HSet(ctx, rk, "category", ev.Category)
		}
		if fit := ev.Metadata["persona_fit"]; fit != "" {
			pipe.HSet(ctx, rk, "persona_fit", fit)
		}
		pipe.Expire(ctx, rk, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply interaction pipeline: %w", err)
	}
	return nil
}

// Behavior returns the ranking profile built from the user's tracked history.
func (t *Tracker) Behavior(ctx context.Context, userID string) (models.UserBehavior, error) {
	if t.store == nil {
		return models.UserBehavior{}, ErrNoState
	}
	c := t.store.Client
	pipe := c.Pipeline()
	persona := pipe.HGet(ctx, userKey(userID, "profile"), fieldPersona)
	cats := pipe.LRange(ctx, userKey(userID, "categories"), 0, -1)
	formats := pipe.ZRevRange(ctx, userKey(userID, "formats"), 0, preferredFormats-1)
	completed := pipe.SMembers(ctx, userKey(userID, "completed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.UserBehavior{}, fmt.Errorf("read behavior: %w", err)
	}

	done := completed.Val()
	sort.Strings(done)
	return models.UserBehavior{
		UserID:             userID,
		Persona:            models.Persona(persona.Val()),
		RecentCategories:   cats.Val(),
		PreferredFormats:   formats.Val(),
		CompletedResources: done,
	}, nil
}

// ResourceInteractions returns the per-resource counters for a user ordered
// by resource id.
func (t *Tracker) ResourceInteractions(ctx context.Context, userID string) ([]models.ResourceInteraction, error) {
	if t.store == nil {
		return nil, ErrNoState
	}
	c := t.store.Client
	ids, err := c.SMembers(ctx, userKey(userID, "resources")).Result()
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}
	if len(ids) == 0 {
		return []models.ResourceInteraction{}, nil
	}
	sort.Strings(ids)

	pipe := c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, resourceKey(userID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read resource counters: %w", err)
	}

	out := make([]models.ResourceInteraction, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		out = append(out, models.ResourceInteraction{
			ResourceID:       id,
			Category:         h["category"],
			PersonaFit:       models.Persona(h["persona_fit"]),
			Views:            parseInt(h["views"]),
			Downloads:        parseInt(h["downloads"]),
			Previews:         parseInt(h["previews"]),
			VideoProgress:    parseFloat(h["video_progress"]),
			TimeSpentSeconds: parseInt(h["time_spent_seconds"]),
		})
	}
	return out, nil
}

// Context fills the behavioural fields of base from tracked state. Fields
// the caller already set are kept; InteractionCount takes the larger value.
func (t *Tracker) Context(ctx context.Context, base models.UserContext) (models.UserContext, error) {
	var (
		h    map[string]string
		cats []string
	)
	if t.store != nil {
		pipe := t.store.Client.Pipeline()
		profile := pipe.HGetAll(ctx, userKey(base.UserID, "profile"))
		recent := pipe.LRange(ctx, userKey(base.UserID, "categories"), 0, -1)
		if _, err := pipe.Exec(ctx); err != nil {
			return base, fmt.Errorf("read user context: %w", err)
		}
		h, cats = profile.Val(), recent.Val()
	}
	count := int(parseInt(h[fieldCount]))

	uc := base
	uc.InteractionCount = max(uc.InteractionCount, count)
	if uc.LastVisit.IsZero() {
		if ms := parseInt(h[fieldLastVisit]); ms > 0 {
			uc.LastVisit = time.UnixMilli(ms).UTC()
		}
	}
	if uc.Persona == "" {
		uc.Persona = models.Persona(h[fieldPersona])
	}
	if uc.VisitorType == "" {
		uc.VisitorType = models.VisitorNew
		if count > 0 {
			uc.VisitorType = models.VisitorReturning
		}
	}
	if uc.EngagementLevel == "" {
		uc.EngagementLevel = EngagementFor(uc.InteractionCount)
	}
	if len(uc.Interests) == 0 {
		uc.Interests = cats
	}
	return uc, nil
}

// EngagementFor buckets an interaction count into an engagement level.
func EngagementFor(count int) models.EngagementLevel {
	switch {
	case count >= highEngagementAt:
		return models.EngagementHigh
	case count >= mediumEngagementAt:
		return models.EngagementMedium
	default:
		return models.EngagementLow
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
