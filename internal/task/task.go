package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is a final state that a task
// can never leave.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority orders tasks for dispatch. Higher values are dispatched first.
type TaskPriority int

// Possible task priority values, totally ordered.
const (
	PriorityLow TaskPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the string representation of the priority.
func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a TaskPriority.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Job is the execution contract for a task body. The engine never inspects
// the payload a Job closes over; it only observes the returned result or
// error. Implementations should honor ctx cancellation at their I/O
// boundaries so that timeouts and cooperative cancellation work.
type Job interface {
	// Run executes the task body once and returns an opaque result or an error.
	Run(ctx context.Context) (any, error)
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context) (any, error)

// Run implements the Job interface.
func (f JobFunc) Run(ctx context.Context) (any, error) {
	return f(ctx)
}

// TaskSpec describes a task at registration time. The zero value of each
// optional field selects the manager's default.
type TaskSpec struct {
	// ID optionally supplies an identifier. A fresh one is generated when
	// it is uuid.Nil or collides with an existing task.
	ID uuid.UUID

	// Name is a short human-readable label.
	Name string

	// Description is free-form metadata.
	Description string

	// Tags carries free-form metadata labels. Never interpreted by the engine.
	Tags []string

	// Job is the task body. Required.
	Job Job

	// Priority orders dispatch among simultaneously eligible tasks.
	Priority TaskPriority

	// Dependencies lists tasks that must complete before this one may run.
	// Every ID must already be registered.
	Dependencies []uuid.UUID

	// MaxRetries is how many times a failed attempt is retried.
	MaxRetries int

	// RetryDelay is the base backoff between attempts; attempt n waits
	// RetryDelay * 2^(n-1).
	RetryDelay time.Duration

	// Timeout bounds a single execution attempt. Zero means unbounded.
	Timeout time.Duration

	// Executor selects the concurrency strategy. Empty means the manager's
	// default.
	Executor ExecutorMode
}

// Task represents one unit of schedulable work owned by the Manager.
// All mutable fields are written only by the manager under its lock;
// external callers observe tasks through Snapshot copies.
type Task struct {
	ID           uuid.UUID
	Name         string
	Description  string
	Tags         []string
	Priority     TaskPriority
	Status       TaskStatus
	Dependencies []uuid.UUID

	MaxRetries int
	RetryDelay time.Duration
	RetryCount int
	Timeout    time.Duration

	Progress        float64
	ProgressMessage string

	// Result and Err are mutually exclusive; at most one is ever set.
	Result any
	Err    error

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// job is the execution contract; read-only after registration.
	job Job

	// executor is the resolved strategy for this task.
	executor ExecutorMode

	// seq is the registration order, used as the FIFO tie-break when
	// priorities are equal.
	seq uint64
}

// UpdateProgress stores a progress value clamped to [0, 1] along with an
// optional message. Out-of-range values are clamped rather than rejected so
// that a sloppy task body can never corrupt the observable range.
func (t *Task) UpdateProgress(value float64, message string) {
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	t.Progress = value
	t.ProgressMessage = message
}

// IsReady reports whether every dependency appears in the completed set.
func (t *Task) IsReady(completed map[uuid.UUID]struct{}) bool {
	for _, dep := range t.Dependencies {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a value copy of the task safe for use outside the
// manager's lock. Slice fields are copied so callers cannot alias the
// manager-owned task.
func (t *Task) Snapshot() Task {
	copied := *t
	copied.Tags = append([]string(nil), t.Tags...)
	copied.Dependencies = append([]uuid.UUID(nil), t.Dependencies...)
	return copied
}
