package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validContext() UserContext {
	return UserContext{
		UserID:           "u-1",
		Persona:          PersonaFamilyBusiness,
		EngagementLevel:  EngagementMedium,
		VisitorType:      VisitorReturning,
		InteractionCount: 3,
		LastVisit:        time.Now(),
		Interests:        []string{"valuation"},
	}
}

func TestUserContextValidate(t *testing.T) {
	assert.NoError(t, validContext().Validate())

	tests := map[string]func(*UserContext){
		"missing user":       func(u *UserContext) { u.UserID = "" },
		"unknown persona":    func(u *UserContext) { u.Persona = "astronaut" },
		"bad engagement":     func(u *UserContext) { u.EngagementLevel = "extreme" },
		"bad visitor type":   func(u *UserContext) { u.VisitorType = "bot" },
		"negative count":     func(u *UserContext) { u.InteractionCount = -1 },
		"empty interest tag": func(u *UserContext) { u.Interests = []string{""} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			uc := validContext()
			mutate(&uc)
			err := uc.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestRuleValidate(t *testing.T) {
	good := PersonalizationRule{
		Name:      "high engagement",
		Condition: EngagementLevelCondition{Level: EngagementHigh},
		Action:    RecommendServiceAction{ServiceIDs: []string{"valuation-call"}},
	}
	assert.NoError(t, good.Validate())

	tests := map[string]PersonalizationRule{
		"missing name":      {Condition: good.Condition, Action: good.Action},
		"missing condition": {Name: "x", Action: good.Action},
		"missing action":    {Name: "x", Condition: good.Condition},
		"unknown condition": {Name: "x", Condition: UnknownCondition{Kind: "geo"}, Action: good.Action},
		"unknown action":    {Name: "x", Condition: good.Condition, Action: UnknownAction{Kind: "sms"}},
		"bad window":        {Name: "x", Condition: LastVisitCondition{Window: "90d"}, Action: good.Action},
		"bad persona":       {Name: "x", Condition: PersonaCondition{Persona: "pirate"}, Action: good.Action},
		"empty services":    {Name: "x", Condition: good.Condition, Action: RecommendServiceAction{}},
		"empty content":     {Name: "x", Condition: good.Condition, Action: RecommendContentAction{}},
		"notify channel":    {Name: "x", Condition: good.Condition, Action: NotifyAction{Channel: "fax"}},
	}
	for name, rule := range tests {
		t.Run(name, func(t *testing.T) {
			err := rule.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestActivityValidation(t *testing.T) {
	assert.NoError(t, ValidateStruct(Activity{Key: "valuation_calculator", Value: 80}))
	assert.Error(t, ValidateStruct(Activity{Key: "", Value: 80}))
	assert.Error(t, ValidateStruct(Activity{Key: "k", Value: 120}))
	assert.Error(t, ValidateStruct(Activity{Key: "k", Value: 10, Persona: "pirate"}))
}

func TestInteractionEventValidation(t *testing.T) {
	ok := InteractionEvent{UserID: "u-1", EventType: EventDownload, ResourceID: "guide-1"}
	assert.NoError(t, ok.Validate())

	noUser := ok
	noUser.UserID = ""
	assert.ErrorIs(t, noUser.Validate(), ErrInvalidInput)

	badType := ok
	badType.EventType = "scroll"
	assert.ErrorIs(t, badType.Validate(), ErrInvalidInput)

	negative := ok
	negative.Value = -1
	assert.ErrorIs(t, negative.Validate(), ErrInvalidInput)
}

func TestResourceInteractionValidate(t *testing.T) {
	valid := ResourceInteraction{ResourceID: "r1", Category: "financing", Views: 3, VideoProgress: 100}
	assert.NoError(t, ValidateStruct(valid))

	tests := map[string]func(*ResourceInteraction){
		"negative views":     func(r *ResourceInteraction) { r.Views = -1 },
		"negative downloads": func(r *ResourceInteraction) { r.Downloads = -1 },
		"negative previews":  func(r *ResourceInteraction) { r.Previews = -1 },
		"negative time":      func(r *ResourceInteraction) { r.TimeSpentSeconds = -5 },
		"video over 100":     func(r *ResourceInteraction) { r.VideoProgress = 100.5 },
		"negative video":     func(r *ResourceInteraction) { r.VideoProgress = -1 },
		"unknown persona":    func(r *ResourceInteraction) { r.PersonaFit = "astronaut" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			ri := valid
			mutate(&ri)
			assert.ErrorIs(t, ValidateStruct(ri), ErrInvalidInput)
		})
	}
}
