package rules

// Reasons a rule contributed no action.
const (
	SkipInactive         = "inactive"
	SkipUnknownCondition = "unknown_condition"
	SkipUnknownAction    = "unknown_action"
)

// TraceStep records how a single rule was handled during evaluation.
type TraceStep struct {
	RuleID    string `json:"rule_id"`
	Priority  int    `json:"priority"`
	Condition string `json:"condition"`
	Matched   bool   `json:"matched"`
	Action    string `json:"action,omitempty"`
	Skipped   string `json:"skipped,omitempty"`
}

// EvaluationTrace captures the ordered steps of one evaluation.
type EvaluationTrace struct {
	Steps []TraceStep `json:"steps"`
}

func (t *EvaluationTrace) add(step TraceStep) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, step)
}
