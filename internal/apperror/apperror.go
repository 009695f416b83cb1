package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("unavailable")
	ErrInternal     = errors.New("internal")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, logged but never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel kind and the cause, so errors.Is works
// against either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness or constraint violation. Message is shown to
// the client as-is.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Constraint is a Conflict raised by a remote database (unique, foreign key,
// not-null or check violation). The driver error is kept as the cause.
func Constraint(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Cause:   cause,
	}
}

// Unauthorized is returned for bad credentials. Callers should use one
// message for every cause so responses do not reveal which check failed.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable marks a failure to reach a remote dependency (network error,
// timeout, gateway error).
func Unavailable(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// Internal wraps a failure the client cannot act on.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// Detail renders err for server-side logs, including the cause an AppError
// keeps out of its client-facing message.
func Detail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return err.Error() + ": " + appErr.Cause.Error()
	}
	return err.Error()
}
