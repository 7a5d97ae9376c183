package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	pkgerrors "topicgrader/pkg/errors"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
		return sessionIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateStruct validates a struct based on its validation tags.
// Failures come back as a single VALIDATION AppError listing every field.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateVar validates a single value against a tag expression
func ValidateVar(field string, value interface{}, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			errs := pkgerrors.NewValidationErrors()
			for _, e := range fieldErrs {
				errs.Add(field, formatTag(field, e.Tag(), e.Param()))
			}
			return errs.AsAppError()
		}
		return pkgerrors.NewValidationError(err.Error())
	}
	return nil
}

// IsValidSessionID reports whether s is usable as a session id
func IsValidSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.NewValidationError(err.Error())
	}
	errs := pkgerrors.NewValidationErrors()
	for _, e := range fieldErrs {
		field := strings.ToLower(e.Field())
		errs.Add(field, formatTag(field, e.Tag(), e.Param()))
	}
	return errs.AsAppError()
}

// formatTag formats a single failed tag
func formatTag(field, tag, param string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "notblank":
		return fmt.Sprintf("%s must contain non-whitespace text", field)
	case "sessionid":
		return fmt.Sprintf("%s must be 1-128 characters of letters, digits, '_', '.', ':' or '-'", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", field, strings.ToLower(param))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
