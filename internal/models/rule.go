package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConditionType tags the variant of a RuleCondition on the wire.
type ConditionType string

const (
	ConditionEngagementLevel  ConditionType = "engagement_level"
	ConditionVisitorType      ConditionType = "visitor_type"
	ConditionPersona          ConditionType = "persona"
	ConditionInteractionCount ConditionType = "interaction_count"
	ConditionLastVisit        ConditionType = "last_visit"
)

// RuleCondition is the closed set of predicates a rule can test against a
// UserContext. Consumers switch over the concrete types; UnknownCondition
// carries payloads written by newer producers and never matches.
type RuleCondition interface {
	Type() ConditionType
	isRuleCondition()
}

// EngagementLevelCondition matches an exact engagement level.
type EngagementLevelCondition struct {
	Level EngagementLevel `validate:"engagement"`
}

// VisitorTypeCondition matches new or returning visitors.
type VisitorTypeCondition struct {
	Visitor VisitorType `validate:"visitor"`
}

// PersonaCondition matches a single persona.
type PersonaCondition struct {
	Persona Persona `validate:"persona"`
}

// InteractionCountCondition matches when the user has at least Min interactions.
type InteractionCountCondition struct {
	Min int `validate:"min=0"`
}

// LastVisitCondition matches when the last visit falls within Window of now.
type LastVisitCondition struct {
	Window VisitWindow `validate:"visitwindow"`
}

// UnknownCondition preserves a condition whose type this build does not know.
type UnknownCondition struct {
	Kind  string
	Value json.RawMessage
}

func (EngagementLevelCondition) Type() ConditionType  { return ConditionEngagementLevel }
func (VisitorTypeCondition) Type() ConditionType      { return ConditionVisitorType }
func (PersonaCondition) Type() ConditionType          { return ConditionPersona }
func (InteractionCountCondition) Type() ConditionType { return ConditionInteractionCount }
func (LastVisitCondition) Type() ConditionType        { return ConditionLastVisit }
func (c UnknownCondition) Type() ConditionType        { return ConditionType(c.Kind) }

func (EngagementLevelCondition) isRuleCondition()  {}
func (VisitorTypeCondition) isRuleCondition()      {}
func (PersonaCondition) isRuleCondition()          {}
func (InteractionCountCondition) isRuleCondition() {}
func (LastVisitCondition) isRuleCondition()        {}
func (UnknownCondition) isRuleCondition()          {}

// VisitWindow is the fixed vocabulary of last-visit recency windows.
type VisitWindow string

const (
	Window24Hours VisitWindow = "24h"
	Window7Days   VisitWindow = "7d"
	Window30Days  VisitWindow = "30d"
)

// Duration returns the span covered by the window. ok is false for values
// outside the vocabulary.
func (w VisitWindow) Duration() (d time.Duration, ok bool) {
	switch w {
	case Window24Hours:
		return 24 * time.Hour, true
	case Window7Days:
		return 7 * 24 * time.Hour, true
	case Window30Days:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// ActionType tags the variant of a RuleAction on the wire.
type ActionType string

const (
	ActionRecommendContent ActionType = "recommend_content"
	ActionRecommendService ActionType = "recommend_service"
	ActionNotify           ActionType = "notify"
	ActionTagLead          ActionType = "tag_lead"
	ActionShowCTA          ActionType = "show_cta"
)

// RuleAction is the closed set of effects a matching rule emits.
type RuleAction interface {
	Type() ActionType
	isRuleAction()
}

// RecommendContentAction surfaces specific content items or items carrying the given tags.
type RecommendContentAction struct {
	ContentIDs []string `json:"content_ids,omitempty" validate:"required_without=Tags"`
	Tags       []string `json:"tags,omitempty" validate:"required_without=ContentIDs"`
}

// RecommendServiceAction surfaces specific services.
type RecommendServiceAction struct {
	ServiceIDs []string `json:"service_ids" validate:"required,min=1,dive,required"`
}

// NotifyAction asks a downstream channel to reach out.
type NotifyAction struct {
	Channel string `json:"channel" validate:"required,oneof=email sales slack webhook"`
	Message string `json:"message" validate:"max=500"`
}

// TagLeadAction labels the lead in the CRM.
type TagLeadAction struct {
	Tag string `json:"tag" validate:"required,max=64"`
}

// ShowCTAAction asks the client to render a call to action.
type ShowCTAAction struct {
	CTAID     string `json:"cta_id" validate:"required"`
	Placement string `json:"placement,omitempty"`
}

// UnknownAction preserves an action whose type this build does not know.
type UnknownAction struct {
	Kind    string
	Payload json.RawMessage
}

func (RecommendContentAction) Type() ActionType { return ActionRecommendContent }
func (RecommendServiceAction) Type() ActionType { return ActionRecommendService }
func (NotifyAction) Type() ActionType           { return ActionNotify }
func (TagLeadAction) Type() ActionType          { return ActionTagLead }
func (ShowCTAAction) Type() ActionType          { return ActionShowCTA }
func (a UnknownAction) Type() ActionType        { return ActionType(a.Kind) }

func (RecommendContentAction) isRuleAction() {}
func (RecommendServiceAction) isRuleAction() {}
func (NotifyAction) isRuleAction()           {}
func (TagLeadAction) isRuleAction()          {}
func (ShowCTAAction) isRuleAction()          {}
func (UnknownAction) isRuleAction()          {}

// PersonalizationRule pairs a condition with the action emitted when it holds.
// Higher Priority evaluates first; equal priorities order by ID ascending.
type PersonalizationRule struct {
	ID        string
	Name      string
	Condition RuleCondition
	Action    RuleAction
	Priority  int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ruleJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Condition json.RawMessage `json:"condition"`
	Action    json.RawMessage `json:"action"`
	Priority  int             `json:"priority"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r PersonalizationRule) MarshalJSON() ([]byte, error) {
	cond, err := MarshalCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	action, err := MarshalAction(r.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:        r.ID,
		Name:      r.Name,
		Condition: cond,
		Action:    action,
		Priority:  r.Priority,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

func (r *PersonalizationRule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := UnmarshalCondition(raw.Condition)
	if err != nil {
		return err
	}
	action, err := UnmarshalAction(raw.Action)
	if err != nil {
		return err
	}
	*r = PersonalizationRule{
		ID:        raw.ID,
		Name:      raw.Name,
		Condition: cond,
		Action:    action,
		Priority:  raw.Priority,
		IsActive:  raw.IsActive,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

type conditionEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalCondition encodes c as {"type": ..., "value": ...}. A nil condition
// encodes as JSON null.
func MarshalCondition(c RuleCondition) ([]byte, error) {
	var value any
	switch v := c.(type) {
	case nil:
		return []byte("null"), nil
	case EngagementLevelCondition:
		value = v.Level
	case VisitorTypeCondition:
		value = v.Visitor
	case PersonaCondition:
		value = v.Persona
	case InteractionCountCondition:
		value = v.Min
	case LastVisitCondition:
		value = v.Window
	case UnknownCondition:
		return json.Marshal(conditionEnvelope{Type: v.Kind, Value: v.Value})
	default:
		return nil, fmt.Errorf("marshal condition: unsupported type %T", c)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal condition %s: %w", c.Type(), err)
	}
	return json.Marshal(conditionEnvelope{Type: string(c.Type()), Value: raw})
}

// UnmarshalCondition decodes the wire form produced by MarshalCondition.
// Unrecognised types decode to UnknownCondition; a recognised type with a
// malformed value is an input error. JSON null decodes to a nil condition.
func UnmarshalCondition(data []byte) (RuleCondition, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: condition: %v", ErrInvalidInput, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: condition type is required", ErrInvalidInput)
	}

	var (
		cond RuleCondition
		err  error
	)
	switch ConditionType(env.Type) {
	case ConditionEngagementLevel:
		var c EngagementLevelCondition
		err = json.Unmarshal(env.Value, &c.Level)
		cond = c
	case ConditionVisitorType:
		var c VisitorTypeCondition
		err = json.Unmarshal(env.Value, &c.Visitor)
		cond = c
	case ConditionPersona:
		var c PersonaCondition
		err = json.Unmarshal(env.Value, &c.Persona)
		cond = c
	case ConditionInteractionCount:
		var c InteractionCountCondition
		err = json.Unmarshal(env.Value, &c.Min)
		cond = c
	case ConditionLastVisit:
		var c LastVisitCondition
		err = json.Unmarshal(env.Value, &c.Window)
		cond = c
	default:
		return UnknownCondition{Kind: env.Type, Value: env.Value}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: condition %s: %v", ErrInvalidInput, env.Type, err)
	}
	return cond, nil
}

type actionEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalAction encodes a as {"type": ..., "payload": {...}}.
func MarshalAction(a RuleAction) ([]byte, error) {
	switch v := a.(type) {
	case nil:
		return []byte("null"), nil
	case UnknownAction:
		return json.Marshal(actionEnvelope{Type: v.Kind, Payload: v.Payload})
	case RecommendContentAction, RecommendServiceAction, NotifyAction, TagLeadAction, ShowCTAAction:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal action %s: %w", a.Type(), err)
		}
		return json.Marshal(actionEnvelope{Type: string(a.Type()), Payload: payload})
	default:
		return nil, fmt.Errorf("marshal action: unsupported type %T", a)
	}
}

// UnmarshalAction decodes the wire form produced by MarshalAction with the
// same unknown-type policy as UnmarshalCondition.
func UnmarshalAction(data []byte) (RuleAction, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: action: %v", ErrInvalidInput, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: action type is required", ErrInvalidInput)
	}
	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var (
		action RuleAction
		err    error
	)
	switch ActionType(env.Type) {
	case ActionRecommendContent:
		var a RecommendContentAction
		err = json.Unmarshal(payload, &a)
		action = a
	case ActionRecommendService:
		var a RecommendServiceAction
		err = json.Unmarshal(payload, &a)
		action = a
	case ActionNotify:
		var a NotifyAction
		err = json.Unmarshal(payload, &a)
		action = a
	case ActionTagLead:
		var a TagLeadAction
		err = json.Unmarshal(payload, &a)
		action = a
	case ActionShowCTA:
		var a ShowCTAAction
		err = json.Unmarshal(payload, &a)
		action = a
	default:
		return UnknownAction{Kind: env.Type, Payload: env.Payload}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: action %s: %v", ErrInvalidInput, env.Type, err)
	}
	return action, nil
}

// Actions is an ordered list of triggered rule actions with a JSON encoding
// that keeps each variant's type tag.
type Actions []RuleAction

func (as Actions) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(as))
	for _, a := range as {
		raw, err := MarshalAction(a)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (as *Actions) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	decoded := make(Actions, 0, len(raws))
	for _, raw := range raws {
		a, err := UnmarshalAction(raw)
		if err != nil {
			return err
		}
		decoded = append(decoded, a)
	}
	*as = decoded
	return nil
}
