package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ClockPattern is the strict 24-hour HH:MM form every stored time must match.
	ClockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	// ZoneCodePattern matches JAKIM zone codes such as SGR01.
	ZoneCodePattern = regexp.MustCompile(`^[A-Z]{3}\d{2}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return ClockPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("zonecode", func(fl validator.FieldLevel) bool {
		return ZoneCodePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateZoneCode checks caller-supplied zone codes.
func ValidateZoneCode(zone string) error {
	if zone == "" {
		return NewValidationError("Zone is required")
	}
	if !ZoneCodePattern.MatchString(zone) {
		return NewValidationError("Invalid zone format. Expected format: ABC12")
	}
	return nil
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &APIError{Kind: ErrValidation, Message: err.Error(), Err: err}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return &APIError{Kind: ErrValidation, Message: strings.Join(msgs, "; "), Err: err}
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: field cannot be empty", field)
	case "hhmm":
		return fmt.Sprintf("%s: invalid time format %q, expected HH:MM", field, fe.Value())
	case "datetime":
		return fmt.Sprintf("%s: invalid date format %q, expected YYYY-MM-DD", field, fe.Value())
	case "zonecode":
		return fmt.Sprintf("%s: invalid zone code %q, expected format ABC12", field, fe.Value())
	}
	return fmt.Sprintf("%s: failed %s validation", field, fe.Tag())
}

func trim(s string) string { return strings.TrimSpace(s) }
