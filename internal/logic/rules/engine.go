// Package rules evaluates declarative personalization rules against a user
// context.
package rules

import (
	"sort"
	"time"

	"github.com/patrickwarner/openpersonalize/internal/models"
)

// Engine matches rules against user contexts. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine using the wall clock for last-visit checks.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock returns an Engine that reads the current time from now.
func NewEngineWithClock(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Outcome is the full result of an evaluation.
type Outcome struct {
	// Actions triggered, in evaluation order.
	Actions models.Actions
	// MatchedRuleIDs lists every rule whose condition held, including rules
	// whose action was skipped as unknown.
	MatchedRuleIDs []string
}

// SortRules returns a copy of rules ordered by priority descending, then id
// ascending.
func SortRules(rules []models.PersonalizationRule) []models.PersonalizationRule {
	sorted := make([]models.PersonalizationRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Evaluate returns the actions of every active rule whose condition holds for
// uc, in priority order. Every rule is considered; several may fire.
func (e *Engine) Evaluate(rules []models.PersonalizationRule, uc models.UserContext) models.Actions {
	return e.run(rules, uc, e.now(), nil).Actions
}

// EvaluateAt is Evaluate with an explicit evaluation time.
func (e *Engine) EvaluateAt(rules []models.PersonalizationRule, uc models.UserContext, now time.Time) models.Actions {
	return e.run(rules, uc, now, nil).Actions
}

// Run evaluates rules and reports which rules matched alongside the actions.
func (e *Engine) Run(rules []models.PersonalizationRule, uc models.UserContext) Outcome {
	return e.run(rules, uc, e.now(), nil)
}

// EvaluateWithTrace evaluates rules and records a step per rule.
func (e *Engine) EvaluateWithTrace(rules []models.PersonalizationRule, uc models.UserContext) (Outcome, *EvaluationTrace) {
	trace := &EvaluationTrace{}
	out := e.run(rules, uc, e.now(), trace)
	return out, trace
}

func (e *Engine) run(rules []models.PersonalizationRule, uc models.UserContext, now time.Time, trace *EvaluationTrace) Outcome {
	out := Outcome{Actions: models.Actions{}}
	for _, rule := range SortRules(rules) {
		step := TraceStep{RuleID: rule.ID, Priority: rule.Priority, Condition: conditionName(rule.Condition)}
		if !rule.IsActive {
			step.Skipped = SkipInactive
			trace.add(step)
			continue
		}

		matched, known := Matches(rule.Condition, uc, now)
		step.Matched = matched
		if !known {
			step.Skipped = SkipUnknownCondition
		}
		if !matched {
			trace.add(step)
			continue
		}

		out.MatchedRuleIDs = append(out.MatchedRuleIDs, rule.ID)
		if !knownAction(rule.Action) {
			step.Skipped = SkipUnknownAction
			trace.add(step)
			continue
		}
		step.Action = string(rule.Action.Type())
		out.Actions = append(out.Actions, rule.Action)
		trace.add(step)
	}
	return out
}

// Matches reports whether cond holds for uc at now. known is false for
// condition types this engine does not understand; those never match.
func Matches(cond models.RuleCondition, uc models.UserContext, now time.Time) (matched, known bool) {
	switch c := cond.(type) {
	case models.EngagementLevelCondition:
		return uc.EngagementLevel == c.Level, true
	case models.VisitorTypeCondition:
		return uc.VisitorType == c.Visitor, true
	case models.PersonaCondition:
		return uc.Persona == c.Persona, true
	case models.InteractionCountCondition:
		return uc.InteractionCount >= c.Min, true
	case models.LastVisitCondition:
		window, ok := c.Window.Duration()
		if !ok {
			return false, false
		}
		if uc.LastVisit.IsZero() {
			return false, true
		}
		return now.Sub(uc.LastVisit) <= window, true
	case models.UnknownCondition, nil:
		return false, false
	default:
		return false, false
	}
}

func knownAction(a models.RuleAction) bool {
	switch a.(type) {
	case models.RecommendContentAction, models.RecommendServiceAction,
		models.NotifyAction, models.TagLeadAction, models.ShowCTAAction:
		return true
	default:
		return false
	}
}

func conditionName(c models.RuleCondition) string {
	if c == nil {
		return ""
	}
	return string(c.Type())
}
