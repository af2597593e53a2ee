package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator with the domain enum tags registered.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	mustRegister(v, "persona", func(fl validator.FieldLevel) bool {
		return Persona(fl.Field().String()).Valid()
	})
	mustRegister(v, "engagement", func(fl validator.FieldLevel) bool {
		return EngagementLevel(fl.Field().String()).Valid()
	})
	mustRegister(v, "visitor", func(fl validator.FieldLevel) bool {
		return VisitorType(fl.Field().String()).Valid()
	})
	mustRegister(v, "eventtype", func(fl validator.FieldLevel) bool {
		return EventType(fl.Field().String()).Valid()
	})
	mustRegister(v, "visitwindow", func(fl validator.FieldLevel) bool {
		_, ok := VisitWindow(fl.Field().String()).Duration()
		return ok
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct runs tag validation on s and converts failures into an
// ErrInvalidInput error naming each offending field.
func ValidateStruct(s any) error {
	return invalid(validate.Struct(s))
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
}

// Validate checks a user context before it enters the engine.
func (u UserContext) Validate() error {
	return ValidateStruct(u)
}

// Validate checks an interaction before it is tracked.
func (e InteractionEvent) Validate() error {
	return ValidateStruct(e)
}

// Validate checks a rule submitted for creation or update. Unlike rules read
// back from the store, submitted rules must use known condition and action types.
func (r PersonalizationRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(r.Name) > 200 {
		return fmt.Errorf("%w: name exceeds 200 characters", ErrInvalidInput)
	}
	switch c := r.Condition.(type) {
	case nil:
		return fmt.Errorf("%w: condition is required", ErrInvalidInput)
	case UnknownCondition:
		return fmt.Errorf("%w: unknown condition type %q", ErrInvalidInput, c.Kind)
	default:
		if err := ValidateStruct(c); err != nil {
			return fmt.Errorf("condition %s: %w", c.Type(), err)
		}
	}
	switch a := r.Action.(type) {
	case nil:
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	case UnknownAction:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, a.Kind)
	default:
		if err := ValidateStruct(a); err != nil {
			return fmt.Errorf("action %s: %w", a.Type(), err)
		}
	}
	return nil
}
