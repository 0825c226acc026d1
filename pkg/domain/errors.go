package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAPI                = errors.New("api error")
	ErrValidation         = errors.New("validation error")
	ErrResponseFormat     = errors.New("invalid response format")
	ErrUpstreamStatus     = errors.New("upstream status error")
	ErrUpstreamConnection = errors.New("upstream connection error")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrConfiguration      = errors.New("configuration error")
)

// APIError is the error family returned by the upstream client and the tool
// handlers. errors.Is matches both its Kind and ErrAPI.
type APIError struct {
	Kind       error
	Message    string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *APIError) Unwrap() []error {
	errs := []error{ErrAPI}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewValidationError reports malformed caller input. Never retried.
func NewValidationError(format string, args ...any) *APIError {
	return &APIError{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewResponseFormatError reports an unrecognised, empty or unparseable upstream payload.
func NewResponseFormatError(format string, args ...any) *APIError {
	return &APIError{Kind: ErrResponseFormat, Message: fmt.Sprintf(format, args...)}
}

func NewUpstreamStatusError(status int, body string) *APIError {
	return &APIError{
		Kind:       ErrUpstreamStatus,
		StatusCode: status,
		Message:    fmt.Sprintf("HTTP %d: %s", status, body),
	}
}

func NewUpstreamConnectionError(err error) *APIError {
	return &APIError{
		Kind:    ErrUpstreamConnection,
		Message: fmt.Sprintf("Request failed: %v", err),
		Err:     err,
	}
}
