package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/taskforge/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, task.ErrDependencyNotFound),
		errors.Is(err, task.ErrNilJob),
		errors.Is(err, ErrUnknownJobType):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, task.ErrInvalidTaskState),
		errors.Is(err, task.ErrTaskCancellation):
		return http.StatusConflict

	// Unavailable after shutdown
	case errors.Is(err, task.ErrManagerClosed):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrDependencyNotFound):
		return "Task dependency not found"

	case errors.Is(err, ErrUnknownJobType):
		return "Unknown job type"

	case errors.Is(err, task.ErrNilJob):
		return "Task job is required"

	case errors.Is(err, task.ErrInvalidTaskState):
		return "Task is not in a valid state for this operation"

	case errors.Is(err, task.ErrTaskCancellation):
		return "Task could not be cancelled"

	case errors.Is(err, task.ErrManagerClosed):
		return "Task manager is shutting down"

	default:
		return "An unexpected error occurred"
	}
}
