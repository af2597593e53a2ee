package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

var (
	_ InteractionSink   = (*MockAnalytics)(nil)
	_ InteractionReader = (*MockAnalytics)(nil)
)

// MockAnalytics keeps interactions in memory for tests and for running
// without ClickHouse.
type MockAnalytics struct {
	mu     sync.Mutex
	events []models.InteractionEvent
	// Err, when set, is returned by RecordInteraction.
	Err error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordInteraction stores ev.
func (m *MockAnalytics) RecordInteraction(ctx context.Context, ev models.InteractionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded interactions.
func (m *MockAnalytics) Events() []models.InteractionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.InteractionEvent(nil), m.events...)
}

// Summarize aggregates recorded interactions the same way the ClickHouse query does.
func (m *MockAnalytics) Summarize(ctx context.Context, userID string, since time.Time) (*models.InteractionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := &models.InteractionSummary{
		UserID:     userID,
		Since:      since,
		ByType:     map[models.EventType]int64{},
		ByCategory: map[string]int64{},
	}
	for _, ev := range m.events {
		if ev.UserID != userID || ev.Timestamp.Before(since) {
			continue
		}
		sum.Total++
		sum.ByType[ev.EventType]++
		if ev.Category != "" {
			sum.ByCategory[ev.Category]++
		}
		if ev.Timestamp.After(sum.LastSeen) {
			sum.LastSeen = ev.Timestamp
		}
	}
	return sum, nil
}
