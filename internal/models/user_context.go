package models

import "time"

// Persona identifies the seller archetype a visitor has been classified as.
type Persona string

const (
	PersonaFirstTimeSeller    Persona = "first_time_seller"
	PersonaSerialEntrepreneur Persona = "serial_entrepreneur"
	PersonaFamilyBusiness     Persona = "family_business"
	PersonaStrategicExit      Persona = "strategic_exit"
	PersonaDistressedSeller   Persona = "distressed_seller"
)

// Personas lists every recognised persona in a stable order.
var Personas = []Persona{
	PersonaFirstTimeSeller,
	PersonaSerialEntrepreneur,
	PersonaFamilyBusiness,
	PersonaStrategicExit,
	PersonaDistressedSeller,
}

// Valid reports whether p is one of the known personas.
func (p Persona) Valid() bool {
	for _, known := range Personas {
		if p == known {
			return true
		}
	}
	return false
}

// EngagementLevel buckets how actively a visitor interacts with the site.
type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

func (e EngagementLevel) Valid() bool {
	return e == EngagementLow || e == EngagementMedium || e == EngagementHigh
}

// VisitorType distinguishes first visits from repeat visits.
type VisitorType string

const (
	VisitorNew       VisitorType = "new"
	VisitorReturning VisitorType = "returning"
)

func (v VisitorType) Valid() bool {
	return v == VisitorNew || v == VisitorReturning
}

// UserContext is the behavioural snapshot a single evaluation runs against.
// It is treated as immutable for the duration of a call; the interaction
// tracker updates the underlying state between calls.
type UserContext struct {
	UserID           string          `json:"user_id" validate:"required,max=128"`
	Persona          Persona         `json:"persona" validate:"persona"`
	EngagementLevel  EngagementLevel `json:"engagement_level" validate:"engagement"`
	VisitorType      VisitorType     `json:"visitor_type" validate:"visitor"`
	InteractionCount int             `json:"interaction_count" validate:"min=0"`
	LastVisit        time.Time       `json:"last_visit"`
	Interests        []string        `json:"interests,omitempty" validate:"dive,required"`
}

// HasInterest reports whether tag is among the user's interests.
func (u UserContext) HasInterest(tag string) bool {
	for _, i := range u.Interests {
		if i == tag {
			return true
		}
	}
	return false
}
