package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// lowActivityScore marks an activity worth nudging the user to improve.
const lowActivityScore = 50

// improvementHints are shown when an activity scores below lowActivityScore.
var improvementHints = map[string]string{
	"valuation_calculator":      "Improve your valuation by documenting recurring revenue and margins",
	"exit_readiness_assessment": "Work through the exit readiness checklist to close gaps before going to market",
	"sba_loan_calculator":       "Strengthen buyer financing options by reviewing SBA eligibility",
	"tax_impact_calculator":     "Review deal structure options to reduce the tax impact of your sale",
}

// nextStepHints are shown when a calculator activity reaches the Hot threshold.
var nextStepHints = map[string]string{
	"valuation_calculator":      "Schedule a valuation review with an advisor",
	"exit_readiness_assessment": "Book an exit strategy consultation",
	"sba_loan_calculator":       "Connect with an SBA lending specialist",
	"tax_impact_calculator":     "Talk to a tax planning specialist",
}

// ScoreActivities converts a batch of activity scores into a LeadScore using
// a weighted average where each activity's weight is its category weight
// times its persona weight.
func ScoreActivities(activities []models.Activity) models.LeadScore {
	var (
		avg  WeightedAverage
		recs hintSet
	)
	for _, a := range activities {
		avg.Add(a.Value, CategoryWeight(a.Key)*PersonaWeight(a.Persona))

		if a.Value < lowActivityScore {
			recs.add(improvementHint(a.Key))
		}
		if a.Value >= HotThreshold {
			if hint, ok := nextStepHints[a.Key]; ok {
				recs.add(hint)
			}
		}
	}
	return leadScore(avg, recs)
}

// Per-signal weights for the resource interaction formula.
const (
	viewPoints          = 5.0
	downloadPoints      = 20.0
	previewPoints       = 10.0
	videoProgressPoints = 0.3 // per percent watched
	minutePoints        = 3.0
	maxCountedMinutes   = 10.0
	maxInteractionScore = 100.0
)

// InteractionScore returns the raw 0-100 engagement score for one resource.
// Negative counters contribute nothing.
func InteractionScore(ri models.ResourceInteraction) float64 {
	minutes := math.Max(0, math.Min(float64(ri.TimeSpentSeconds)/60, maxCountedMinutes))
	raw := float64(ri.Views)*viewPoints +
		float64(ri.Downloads)*downloadPoints +
		float64(ri.Previews)*previewPoints +
		math.Max(0, math.Min(ri.VideoProgress, 100))*videoProgressPoints +
		minutes*minutePoints
	return math.Max(0, math.Min(raw, maxInteractionScore))
}

// ScoreResourceInteractions scores a user's resource engagement with the same
// weighted-average pipeline as ScoreActivities. Each interaction is weighted
// by its category and by the persona it was written for, falling back to the
// user's persona.
func ScoreResourceInteractions(persona models.Persona, interactions []models.ResourceInteraction) models.LeadScore {
	var (
		avg  WeightedAverage
		recs hintSet
	)
	for _, ri := range interactions {
		fit := ri.PersonaFit
		if fit == "" {
			fit = persona
		}
		score := InteractionScore(ri)
		avg.Add(score, CategoryWeight(ri.Category)*PersonaWeight(fit))

		topic := humanize(ri.Category)
		switch {
		case score < lowActivityScore:
			recs.add(fmt.Sprintf("Explore more %s resources", topic))
		case score >= HotThreshold:
			recs.add(fmt.Sprintf("Book a consultation about %s", topic))
		}
	}
	return leadScore(avg, recs)
}

func leadScore(avg WeightedAverage, recs hintSet) models.LeadScore {
	total := avg.Rounded()
	return models.LeadScore{
		TotalScore:      total,
		Qualification:   Qualify(total),
		Recommendations: recs.list(),
	}
}

func improvementHint(key string) string {
	if hint, ok := improvementHints[key]; ok {
		return hint
	}
	return fmt.Sprintf("Improve your %s results", humanize(key))
}

func humanize(key string) string {
	if key == "" {
		return "general"
	}
	return strings.ReplaceAll(key, "_", " ")
}

// hintSet keeps the first occurrence of each hint in insertion order.
type hintSet struct {
	seen  map[string]struct{}
	items []string
}

func (h *hintSet) add(s string) {
	if h.seen == nil {
		h.seen = make(map[string]struct{})
	}
	if _, dup := h.seen[s]; dup {
		return
	}
	h.seen[s] = struct{}{}
	h.items = append(h.items, s)
}

func (h *hintSet) list() []string {
	if h.items == nil {
		return []string{}
	}
	return h.items
}
