// Package apperrors classifies job engine failures so callers can tell a
// retryable external failure from a bug.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classification via errors.Is().
var (
	// ErrNotFound: an input artifact is missing. The job stays pending.
	ErrNotFound = errors.New("not found")
	// ErrSubmission: the compute cluster rejected a submission. The job stays pending.
	ErrSubmission = errors.New("submission rejected")
	// ErrServiceResponse: an external service returned an unexpected response.
	// The job is not advanced, so the next tick retries the same step.
	ErrServiceResponse = errors.New("unexpected service response")
	// ErrInvalidState: an invariant was violated. Never swallowed.
	ErrInvalidState = errors.New("invalid state")

	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

// Error carries an operation name and cause alongside its sentinel.
type Error struct {
	Sentinel error
	Message  string
	Field    string // validation errors only
	Op       string // e.g. "dataapi.getAsset"
	Cause    error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
	}
}

func Submission(op string, cause error) error {
	return &Error{
		Sentinel: ErrSubmission,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

func ServiceResponse(op string, cause error) error {
	return &Error{
		Sentinel: ErrServiceResponse,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

func InvalidState(op, message string) error {
	return &Error{
		Sentinel: ErrInvalidState,
		Message:  fmt.Sprintf("%s: %s", op, message),
		Op:       op,
	}
}

func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

func Conflict(resource, id string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s already exists", resource, id),
	}
}

// Retryable reports whether a later invocation of the same operation may
// succeed without intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubmission) ||
		errors.Is(err, ErrServiceResponse)
}

// HTTPStatus maps an error to the status code returned by the trigger API.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrSubmission), errors.Is(err, ErrServiceResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
