// Package ranking scores catalog items against a behavioural profile.
package ranking

import (
	"sort"
	"time"

	"github.com/patrickwarner/openpersonalize/internal/logic/filters"
	"github.com/patrickwarner/openpersonalize/internal/logic/scoring"
	"github.com/patrickwarner/openpersonalize/internal/models"
)

// Weights are the per-factor weights of the final score. They sum to 1.0;
// changing one means rebalancing the rest.
type Weights struct {
	Category   float64
	Format     float64
	Persona    float64
	Popularity float64
	Recency    float64
}

// Sum returns the total of all five weights.
func (w Weights) Sum() float64 {
	return w.Category + w.Format + w.Persona + w.Popularity + w.Recency
}

var factorWeights = Weights{
	Category:   0.3,
	Format:     0.2,
	Persona:    0.25,
	Popularity: 0.15,
	Recency:    0.1,
}

// FactorWeights returns the ranking weights.
func FactorWeights() Weights { return factorWeights }

const (
	// coldStartScore is used for category and format relevance when the
	// profile carries no history for that factor.
	coldStartScore = 0.5
	// reasonThreshold is the factor score a reason requires.
	reasonThreshold = 0.7
	maxReasons     = 2
	recencyHorizon = 365.0 // days
)

// Factor names in reason priority order.
const (
	FactorCategory   = "category"
	FactorFormat     = "format"
	FactorPersona    = "persona"
	FactorPopularity = "popularity"
	FactorRecency    = "recency"
)

var reasonText = map[string]string{
	FactorCategory:   "Matches your recent interests",
	FactorFormat:     "Matches your preferred format",
	FactorPersona:    "Perfect for your seller profile",
	FactorPopularity: "Popular with other sellers",
	FactorRecency:    "Recently updated",
}

// Ranker produces ranked, reason-annotated recommendations. It is stateless
// apart from its clock and safe for concurrent use.
type Ranker struct {
	now func() time.Time
}

// NewRanker returns a Ranker using the wall clock for recency.
func NewRanker() *Ranker {
	return &Ranker{now: time.Now}
}

// NewRankerWithClock returns a Ranker reading the current time from now.
func NewRankerWithClock(now func() time.Time) *Ranker {
	if now == nil {
		now = time.Now
	}
	return &Ranker{now: now}
}

// Rank scores every catalog item the profile has not completed and returns
// them by descending score, ties broken by item id. limit <= 0 returns all.
func (r *Ranker) Rank(catalog []models.CatalogItem, profile models.UserBehavior, limit int) []models.RecommendationScore {
	return r.RankAt(catalog, profile, limit, r.now())
}

// RankAt is Rank with an explicit reference time.
func (r *Ranker) RankAt(catalog []models.CatalogItem, profile models.UserBehavior, limit int, now time.Time) []models.RecommendationScore {
	candidates := filters.Apply(catalog, filters.ExcludeCompleted(profile.CompletedResources))
	if len(candidates) == 0 {
		return []models.RecommendationScore{}
	}

	// popularity is normalised against the whole supplied catalog
	var maxViews, maxRating float64
	for _, it := range catalog {
		if v := float64(it.Views); v > maxViews {
			maxViews = v
		}
		if it.Rating > maxRating {
			maxRating = it.Rating
		}
	}

	recent := toSet(profile.RecentCategories)
	formats := toSet(profile.PreferredFormats)

	out := make([]models.RecommendationScore, 0, len(candidates))
	for _, it := range candidates {
		factors := []scoring.Factor{
			{Name: FactorCategory, Score: membership(recent, it.Category), Weight: factorWeights.Category},
			{Name: FactorFormat, Score: membership(formats, it.Format), Weight: factorWeights.Format},
			{Name: FactorPersona, Score: personaScore(it, profile.Persona), Weight: factorWeights.Persona},
			{Name: FactorPopularity, Score: popularity(it, maxViews, maxRating), Weight: factorWeights.Popularity},
			{Name: FactorRecency, Score: recency(it.LastUpdated, now), Weight: factorWeights.Recency},
		}
		out = append(out, models.RecommendationScore{
			Item:    it,
			Score:   scoring.WeightedSum(factors),
			Reasons: reasons(factors),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// membership scores 1 for a hit, 0 for a miss, and the cold-start score when
// there is no history at all.
func membership(set map[string]struct{}, value string) float64 {
	if len(set) == 0 {
		return coldStartScore
	}
	if _, ok := set[value]; ok {
		return 1
	}
	return 0
}

func personaScore(it models.CatalogItem, p models.Persona) float64 {
	if p != "" && it.FitsPersona(p) {
		return 1
	}
	return 0
}

func popularity(it models.CatalogItem, maxViews, maxRating float64) float64 {
	views := scoring.Ratio(float64(it.Views), maxViews)
	rating := scoring.Ratio(it.Rating, maxRating)
	return scoring.Clamp01((views + rating) / 2)
}

func recency(updated, now time.Time) float64 {
	if updated.IsZero() {
		return 0
	}
	ageDays := now.Sub(updated).Hours() / 24
	return scoring.Clamp01(1 - ageDays/recencyHorizon)
}

// reasons picks the two highest-scoring factors above the threshold and
// returns their text in factor priority order.
func reasons(factors []scoring.Factor) []string {
	type candidate struct {
		idx   int
		score float64
	}
	var picked []candidate
	for i, f := range factors {
		if f.Score > reasonThreshold {
			picked = append(picked, candidate{idx: i, score: f.Score})
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].score > picked[j].score })
	if len(picked) > maxReasons {
		picked = picked[:maxReasons]
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].idx < picked[j].idx })

	out := make([]string, 0, len(picked))
	for _, c := range picked {
		out = append(out, reasonText[factors[c.idx].Name])
	}
	return out
}
