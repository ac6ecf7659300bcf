// Package apperror defines the error kinds the service layer reports and the
// HTTP layer translates into status codes.
//
// SENTINEL + WRAPPER:
// Each kind is a sentinel (ErrNotFound, ErrBusy, ...). Constructors return an
// *AppError that carries a human-readable Message and unwraps to its sentinel,
// so callers branch with errors.Is(err, apperror.ErrNotFound) no matter how
// many fmt.Errorf("...: %w") layers sit on top.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnavailable means a dependency the request needs (the sandbox
	// backend, the database) is not configured or not reachable.
	ErrUnavailable = errors.New("unavailable")

	// ErrBusy means the server is at its concurrent comparison limit, or the
	// caller's session is already running a cycle.
	ErrBusy = errors.New("busy")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // safe to show to the client
	Field   string // set for validation errors
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
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

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden is returned when the caller is authenticated but does not own
// the resource. Handlers map it to 403.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unavailable names the missing dependency, e.g. Unavailable("snippet storage").
func Unavailable(what string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: what + " is not available",
	}
}

func Busy(message string) *AppError {
	return &AppError{
		Err:     ErrBusy,
		Message: message,
	}
}
