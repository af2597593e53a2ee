package rules

import (
	"testing"
	"time"

	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngineWithClock(func() time.Time { return fixedNow })
}

func tag(name string) models.RuleAction { return models.TagLeadAction{Tag: name} }

func always() models.RuleCondition { return models.InteractionCountCondition{Min: 0} }

func baseContext() models.UserContext {
	return models.UserContext{
		UserID:           "u1",
		Persona:          models.PersonaSerialEntrepreneur,
		EngagementLevel:  models.EngagementHigh,
		VisitorType:      models.VisitorReturning,
		InteractionCount: 12,
		LastVisit:        fixedNow.Add(-3 * 24 * time.Hour),
	}
}

func TestPriorityOrderingWithIDTieBreak(t *testing.T) {
	rules := []models.PersonalizationRule{
		{ID: "A", Priority: 10, IsActive: true, Condition: always(), Action: tag("A")},
		{ID: "B", Priority: 5, IsActive: true, Condition: always(), Action: tag("B")},
		{ID: "C", Priority: 10, IsActive: true, Condition: always(), Action: tag("C")},
	}

	got := testEngine().Evaluate(rules, baseContext())

	require.Len(t, got, 3)
	assert.Equal(t, models.Actions{tag("A"), tag("C"), tag("B")}, got)
}

func TestSortRulesDoesNotMutateInput(t *testing.T) {
	rules := []models.PersonalizationRule{{ID: "b", Priority: 1}, {ID: "a", Priority: 1}}
	sorted := SortRules(rules)
	assert.Equal(t, "a", sorted[0].ID)
	assert.Equal(t, "b", rules[0].ID)
}

func TestConditionDispatch(t *testing.T) {
	uc := baseContext()
	tests := []struct {
		name string
		cond models.RuleCondition
		want bool
	}{
		{"engagement match", models.EngagementLevelCondition{Level: models.EngagementHigh}, true},
		{"engagement mismatch", models.EngagementLevelCondition{Level: models.EngagementLow}, false},
		{"visitor match", models.VisitorTypeCondition{Visitor: models.VisitorReturning}, true},
		{"visitor mismatch", models.VisitorTypeCondition{Visitor: models.VisitorNew}, false},
		{"persona match", models.PersonaCondition{Persona: models.PersonaSerialEntrepreneur}, true},
		{"persona mismatch", models.PersonaCondition{Persona: models.PersonaFamilyBusiness}, false},
		{"count equal", models.InteractionCountCondition{Min: 12}, true},
		{"count above", models.InteractionCountCondition{Min: 13}, false},
		{"visit within 7d", models.LastVisitCondition{Window: models.Window7Days}, true},
		{"visit outside 24h", models.LastVisitCondition{Window: models.Window24Hours}, false},
		{"visit within 30d", models.LastVisitCondition{Window: models.Window30Days}, true},
		{"unknown window", models.LastVisitCondition{Window: "90d"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := models.PersonalizationRule{ID: "r", IsActive: true, Condition: tt.cond, Action: tag("x")}
			got := testEngine().Evaluate([]models.PersonalizationRule{rule}, uc)
			assert.Equal(t, tt.want, len(got) == 1)
		})
	}
}

func TestLastVisitZeroNeverMatches(t *testing.T) {
	uc := baseContext()
	uc.LastVisit = time.Time{}
	matched, known := Matches(models.LastVisitCondition{Window: models.Window30Days}, uc, fixedNow)
	assert.False(t, matched)
	assert.True(t, known)
}

func TestUnknownConditionNeverFires(t *testing.T) {
	rules := []models.PersonalizationRule{
		{ID: "geo", Priority: 100, IsActive: true, Condition: models.UnknownCondition{Kind: "geo_region"}, Action: tag("geo")},
		{ID: "nil", Priority: 90, IsActive: true, Condition: nil, Action: tag("nil")},
		{ID: "ok", Priority: 1, IsActive: true, Condition: always(), Action: tag("ok")},
	}

	assert.NotPanics(t, func() {
		got := testEngine().Evaluate(rules, baseContext())
		assert.Equal(t, models.Actions{tag("ok")}, got)
	})
}

func TestUnknownActionSkippedButMatched(t *testing.T) {
	rules := []models.PersonalizationRule{
		{ID: "sms", IsActive: true, Condition: always(), Action: models.UnknownAction{Kind: "send_sms"}},
	}
	out := testEngine().Run(rules, baseContext())
	assert.Empty(t, out.Actions)
	assert.Equal(t, []string{"sms"}, out.MatchedRuleIDs)
}

func TestInactiveRulesIgnored(t *testing.T) {
	rules := []models.PersonalizationRule{
		{ID: "off", Priority: 10, IsActive: false, Condition: always(), Action: tag("off")},
	}
	assert.Empty(t, testEngine().Evaluate(rules, baseContext()))
}

func TestEvaluateEmptyAndDeterministic(t *testing.T) {
	e := testEngine()
	got := e.Evaluate(nil, baseContext())
	assert.NotNil(t, got)
	assert.Empty(t, got)

	rules := []models.PersonalizationRule{
		{ID: "x", Priority: 3, IsActive: true, Condition: models.EngagementLevelCondition{Level: models.EngagementHigh}, Action: tag("x")},
		{ID: "y", Priority: 3, IsActive: true, Condition: always(), Action: models.NotifyAction{Channel: "sales"}},
	}
	assert.Equal(t, e.Evaluate(rules, baseContext()), e.Evaluate(rules, baseContext()))
}

func TestEvaluateWithTrace(t *testing.T) {
	rules := []models.PersonalizationRule{
		{ID: "a", Priority: 3, IsActive: true, Condition: always(), Action: tag("a")},
		{ID: "b", Priority: 2, IsActive: false, Condition: always(), Action: tag("b")},
		{ID: "c", Priority: 1, IsActive: true, Condition: models.UnknownCondition{Kind: "geo"}, Action: tag("c")},
	}
	out, trace := testEngine().EvaluateWithTrace(rules, baseContext())

	require.Len(t, out.Actions, 1)
	require.Len(t, trace.Steps, 3)
	assert.Equal(t, "tag_lead", trace.Steps[0].Action)
	assert.True(t, trace.Steps[0].Matched)
	assert.Equal(t, SkipInactive, trace.Steps[1].Skipped)
	assert.Equal(t, SkipUnknownCondition, trace.Steps[2].Skipped)
}
