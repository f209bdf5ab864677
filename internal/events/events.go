package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a task lifecycle transition.
type EventType string

// Lifecycle event types published by the task manager.
const (
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskProgress  EventType = "task.progress"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
)

// TaskEvent describes one lifecycle transition of a task. It carries the
// event's own identity plus the affected task and a free-form payload, so
// subscribers need no dependency on the task package.
type TaskEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type indicates which lifecycle transition occurred.
	Type EventType `json:"type"`

	// TaskID identifies the task the event is about.
	TaskID uuid.UUID `json:"task_id"`

	// Payload contains transition-specific details (status, progress,
	// error message, and so on).
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskEvent creates a TaskEvent with a fresh ID and timestamp.
func NewTaskEvent(eventType EventType, taskID uuid.UUID, payload map[string]any) *TaskEvent {
	return &TaskEvent{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Handler defines an interface for components that consume task events.
type Handler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// Publisher defines an interface for components that publish task events.
// The task manager treats publishing as fire-and-forget: failures are
// logged by the caller, never propagated into scheduling.
type Publisher interface {
	// Publish delivers the given event to all interested subscribers.
	// Returns an error if delivery failed.
	Publish(ctx context.Context, event *TaskEvent) error
}
