// Package tracking captures visitor interactions. Capture is fire and
// forget: per-user behaviour state is updated in Redis and the raw event is
// forwarded to the analytics sink in the background.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/analytics"
	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/logic"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

// ErrClosed is returned by Record once the tracker has been closed.
var ErrClosed = errors.New("tracker closed")

// Options tune a Tracker. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds the background work for one event.
	Timeout time.Duration
	// HistoryLength caps the recent category list.
	HistoryLength int
	// StateTTL expires idle per-user state.
	StateTTL time.Duration
}

// Tracker records interactions into per-user state and the analytics sink.
type Tracker struct {
	store   *db.RedisStore
	sink    analytics.InteractionSink
	metrics observability.MetricsRegistry
	logger  *zap.Logger
	opts    Options
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Tracker. sink may be nil when no analytics store is configured.
func New(store *db.RedisStore, sink analytics.InteractionSink, metrics observability.MetricsRegistry, logger *zap.Logger, opts Options) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.HistoryLength <= 0 {
		opts.HistoryLength = 10
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 90 * 24 * time.Hour
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, sink: sink, metrics: metrics, logger: logger, opts: opts, now: time.Now}
}

// Track assigns the event an id and timestamp, then records it in the
// background. The returned id is the event's id. Failures are logged and
// counted, never returned.
func (t *Tracker) Track(ctx context.Context, ev models.InteractionEvent) string {
	t.stamp(&ev)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.metrics.IncrementInteractionErrors("closed")
		t.logger.Warn("dropping interaction after shutdown", zap.String("event_id", ev.ID))
		return ev.ID
	}
	t.metrics.IncrementInteractions(string(ev.EventType))
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.Timeout)
		defer cancel()
		t.process(bg, ev)
	}()
	return ev.ID
}

// Record processes ev synchronously and returns the state update error.
// Sink failures are still only logged.
func (t *Tracker) Record(ctx context.Context, ev models.InteractionEvent) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	t.stamp(&ev)
	t.metrics.IncrementInteractions(string(ev.EventType))
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()
	return t.process(ctx, ev)
}

func (t *Tracker) stamp(ev *models.InteractionEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now().UTC()
	}
}

func (t *Tracker) process(ctx context.Context, ev models.InteractionEvent) error {
	logger := t.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("user_id", ev.UserID),
		zap.String("event_type", string(ev.EventType)),
	)

	var stateErr error
	if t.store != nil {
		if err := t.applyState(ctx, ev); err != nil {
			stateErr = logic.NewDependencyError("tracker_state", "apply_interaction", err)
			t.metrics.IncrementInteractionErrors("state")
			logger.Error("failed to update user state", zap.Error(err))
		}
	}
	if t.sink != nil {
		if err := t.sink.RecordInteraction(ctx, ev); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
			logger.Warn("failed to forward interaction", zap.Error(err))
		}
	}
	return stateErr
}

// Close waits for in-flight events. Track calls after Close are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
