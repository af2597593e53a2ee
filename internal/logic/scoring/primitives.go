// Package scoring holds the weighted-average and threshold primitives shared
// by every scorer, and the lead qualification scorers built on them.
package scoring

import (
	"math"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// Qualification thresholds, inclusive.
const (
	HotThreshold  = 75
	WarmThreshold = 50
)

// DefaultWeight applies to any category or persona without an explicit weight.
const DefaultWeight = 1.0

// WeightedAverage accumulates value*weight and weight separately so the
// result stays on the input scale regardless of how many values are added.
// The zero value is ready to use.
type WeightedAverage struct {
	sum    float64
	weight float64
}

// Add accumulates value with the given weight. Non-positive weights are ignored.
func (w *WeightedAverage) Add(value, weight float64) {
	if weight <= 0 || math.IsNaN(value) || math.IsNaN(weight) {
		return
	}
	w.sum += value * weight
	w.weight += weight
}

// Result returns Σ(value·weight)/Σweight, or 0 when nothing was added.
func (w WeightedAverage) Result() float64 {
	if w.weight == 0 {
		return 0
	}
	return w.sum / w.weight
}

// Rounded returns Result rounded half away from zero.
func (w WeightedAverage) Rounded() int {
	return int(math.Round(w.Result()))
}

// Qualify maps a total score onto its tier.
func Qualify(total int) models.Qualification {
	switch {
	case total >= HotThreshold:
		return models.QualificationHot
	case total >= WarmThreshold:
		return models.QualificationWarm
	default:
		return models.QualificationCold
	}
}

// Factor is one named component of a weighted sum.
type Factor struct {
	Name   string
	Score  float64
	Weight float64
}

// WeightedSum returns Σ(score·weight) over factors.
func WeightedSum(factors []Factor) float64 {
	var total float64
	for _, f := range factors {
		total += f.Score * f.Weight
	}
	return total
}

// Clamp01 limits v to [0, 1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Ratio returns num/den, or 0 when den is not positive.
func Ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

var categoryWeights = map[string]float64{
	// calculators
	"valuation_calculator":      1.5,
	"exit_readiness_assessment": 1.4,
	"sba_loan_calculator":       1.2,
	"tax_impact_calculator":     1.2,
	// resource categories
	"business_valuation": 1.3,
	"exit_planning":      1.2,
	"tax_strategy":       1.1,
	"financing":          1.0,
	"succession":         1.0,
	"general":            0.8,
}

var personaWeights = map[models.Persona]float64{
	models.PersonaStrategicExit:      1.3,
	models.PersonaSerialEntrepreneur: 1.2,
	models.PersonaDistressedSeller:   1.1,
	models.PersonaFamilyBusiness:     1.0,
	models.PersonaFirstTimeSeller:    0.9,
}

// CategoryWeight returns the weight for an activity category or calculator
// id, or DefaultWeight when the key is unknown.
func CategoryWeight(key string) float64 {
	if w, ok := categoryWeights[key]; ok {
		return w
	}
	return DefaultWeight
}

// PersonaWeight returns the weight for a persona, or DefaultWeight when the
// persona is empty or unknown.
func PersonaWeight(p models.Persona) float64 {
	if w, ok := personaWeights[p]; ok {
		return w
	}
	return DefaultWeight
}
