package models

import "time"

// EventType names a tracked visitor interaction.
type EventType string

const (
	EventPageView         EventType = "page_view"
	EventResourceView     EventType = "resource_view"
	EventDownload         EventType = "download"
	EventPreview          EventType = "preview"
	EventVideoProgress    EventType = "video_progress"
	EventTimeSpent        EventType = "time_spent"
	EventResourceComplete EventType = "resource_complete"
	EventCalculatorResult EventType = "calculator_result"
	EventFormSubmit       EventType = "form_submit"
)

// EventTypes lists every recognised event type.
var EventTypes = []EventType{
	EventPageView,
	EventResourceView,
	EventDownload,
	EventPreview,
	EventVideoProgress,
	EventTimeSpent,
	EventResourceComplete,
	EventCalculatorResult,
	EventFormSubmit,
}

func (e EventType) Valid() bool {
	for _, known := range EventTypes {
		if e == known {
			return true
		}
	}
	return false
}

// InteractionEvent is one captured visitor interaction. Value carries the
// event's measurement: video progress percent, seconds spent or a
// calculator score.
type InteractionEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id" validate:"required,max=128"`
	EventType  EventType         `json:"event_type" validate:"eventtype"`
	ResourceID string            `json:"resource_id,omitempty" validate:"max=128"`
	Category   string            `json:"category,omitempty" validate:"max=64"`
	Format     string            `json:"format,omitempty" validate:"max=64"`
	Persona    Persona           `json:"persona,omitempty" validate:"omitempty,persona"`
	Value      float64           `json:"value,omitempty" validate:"min=0"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	DeviceType string            `json:"device_type,omitempty"`
	Country    string            `json:"country,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// InteractionSummary aggregates a user's interactions over a window.
type InteractionSummary struct {
	UserID     string              `json:"user_id"`
	Since      time.Time           `json:"since"`
	Total      int64               `json:"total"`
	ByType     map[EventType]int64 `json:"by_type"`
	ByCategory map[string]int64    `json:"by_category"`
	LastSeen   time.Time           `json:"last_seen,omitempty"`
}
