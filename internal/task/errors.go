package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for use with errors.Is. Each typed error below matches
// its sentinel so callers can branch on category without caring about the
// carried details.
var (
	// ErrTaskNotFound indicates an operation referenced an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDependencyNotFound indicates registration referenced a dependency
	// that is not in the registry.
	ErrDependencyNotFound = errors.New("task dependency not found")

	// ErrInvalidTaskState indicates an operation was attempted while the
	// task's status forbids it.
	ErrInvalidTaskState = errors.New("invalid task state")

	// ErrTaskExecution indicates the task body returned an error.
	ErrTaskExecution = errors.New("task execution failed")

	// ErrTaskTimeout indicates a single attempt exceeded its timeout.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskCancellation indicates cancellation was requested but could
	// not be honored.
	ErrTaskCancellation = errors.New("task cancellation failed")

	// ErrNilJob indicates a task spec was submitted without a job.
	ErrNilJob = errors.New("task job cannot be nil")

	// ErrExecutorClosed indicates work was submitted to an executor after
	// shutdown.
	ErrExecutorClosed = errors.New("executor is shut down")
)

// DependencyError reports the dependency IDs that were missing from the
// registry at registration time.
type DependencyError struct {
	TaskID  uuid.UUID
	Missing []uuid.UUID
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("task %s: %d unknown dependencies %v", e.TaskID, len(e.Missing), e.Missing)
}

// Is matches ErrDependencyNotFound.
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyNotFound
}

// NotFoundError reports an operation against an unregistered task ID.
type NotFoundError struct {
	TaskID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// Is matches ErrTaskNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrTaskNotFound
}

// InvalidStateError reports an operation attempted while the task was in a
// status that forbids it.
type InvalidStateError struct {
	TaskID uuid.UUID
	Status TaskStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("task %s: cannot %s while %s", e.TaskID, e.Op, e.Status)
}

// Is matches ErrInvalidTaskState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidTaskState
}

// ExecutionError wraps whatever the task body returned.
type ExecutionError struct {
	TaskID uuid.UUID
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.TaskID, e.Cause)
}

// Unwrap exposes the underlying failure for errors.Is/As chains.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches ErrTaskExecution.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrTaskExecution
}

// TimeoutError reports an attempt that exceeded its per-attempt timeout.
type TimeoutError struct {
	TaskID  uuid.UUID
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

// Is matches ErrTaskTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTaskTimeout
}

// CancellationError reports a cancellation request that could not be honored.
type CancellationError struct {
	TaskID uuid.UUID
	Reason string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("task %s cancellation failed: %s", e.TaskID, e.Reason)
}

// Is matches ErrTaskCancellation.
func (e *CancellationError) Is(target error) bool {
	return target == ErrTaskCancellation
}
