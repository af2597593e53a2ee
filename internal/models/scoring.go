package models

// Qualification is the Hot/Warm/Cold lead tier.
type Qualification string

const (
	QualificationHot  Qualification = "Hot"
	QualificationWarm Qualification = "Warm"
	QualificationCold Qualification = "Cold"
)

// Activity is a single scored lead activity such as a calculator result.
// Key is the activity category or calculator id used for weighting.
type Activity struct {
	Key     string  `json:"key" validate:"required"`
	Value   float64 `json:"value" validate:"min=0,max=100"`
	Persona Persona `json:"persona,omitempty" validate:"omitempty,persona"`
}

// ResourceInteraction holds per-resource behavioural counters.
type ResourceInteraction struct {
	ResourceID       string  `json:"resource_id"`
	Category         string  `json:"category"`
	PersonaFit       Persona `json:"persona_fit,omitempty" validate:"omitempty,persona"`
	Views            int64   `json:"views" validate:"min=0"`
	Downloads        int64   `json:"downloads" validate:"min=0"`
	Previews         int64   `json:"previews" validate:"min=0"`
	VideoProgress    float64 `json:"video_progress" validate:"min=0,max=100"`
	TimeSpentSeconds int64   `json:"time_spent_seconds" validate:"min=0"`
}

// LeadScore is the outcome of scoring a batch of activities.
type LeadScore struct {
	TotalScore      int           `json:"total_score"`
	Qualification   Qualification `json:"qualification"`
	Recommendations []string      `json:"recommendations"`
}

// UserBehavior is the behavioural profile the ranker scores items against.
type UserBehavior struct {
	UserID             string   `json:"user_id,omitempty"`
	Persona            Persona  `json:"persona" validate:"omitempty,persona"`
	RecentCategories   []string `json:"recent_categories,omitempty"`
	PreferredFormats   []string `json:"preferred_formats,omitempty"`
	CompletedResources []string `json:"completed_resources,omitempty"`
}

// RecommendationScore is a ranked catalog item with up to two reasons.
type RecommendationScore struct {
	Item    CatalogItem `json:"item"`
	Score   float64     `json:"score"`
	Reasons []string    `json:"reasons"`
}

// Recommendations groups ranked content and services.
type Recommendations struct {
	Content []RecommendationScore `json:"content"`
	Service []RecommendationScore `json:"service"`
}

// PersonalizationResult is the cached outcome of an evaluation.
type PersonalizationResult struct {
	Actions         Actions         `json:"actions"`
	Recommendations Recommendations `json:"recommendations"`
	MatchedRules    []string        `json:"matched_rules"`
	// RulesEpoch identifies the rule set generation the result was computed against.
	RulesEpoch string `json:"rules_epoch,omitempty"`
	CacheHit   bool   `json:"cache_hit"`
}
