// Package validation provides request validation utilities for the
// client-facing router's DTOs.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ruvnet/raftbooking/internal/dto"
)

// Validator wraps the go-playground/validator instance used to check every
// incoming booking DTO before it becomes a statemachine.Command.
type Validator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validator: v}
}

// ValidateStruct validates s, returning a *ValidationError describing every
// failing field, or nil if s is valid.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	errs := make([]dto.ValidationError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		errs = append(errs, dto.ValidationError{
			Field:   fe.Field(),
			Message: fieldErrorMessage(fe),
			Value:   fe.Value(),
		})
	}

	return &ValidationError{Errors: errs}
}

// ValidateVar validates a single value against a validator tag.
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.validator.Var(field, tag)
}

// ValidationError aggregates every field-level failure from one ValidateStruct call.
type ValidationError struct {
	Errors []dto.ValidationError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}

	return fmt.Sprintf("validation failed: %s", strings.Join(messages, ", "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("minimum is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum is %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid4":
		return "must be a valid v4 UUID"
	default:
		return fmt.Sprintf("validation failed on %q", fe.Tag())
	}
}
