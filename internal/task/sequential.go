package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SequentialExecutor runs one task at a time in the calling goroutine.
// Concurrent Execute calls serialize behind an internal mutex. Cancel can
// only reach the currently running task, and only by cancelling its
// context; a body that never checks its context is detached instead.
type SequentialExecutor struct {
	execMu sync.Mutex // serializes Execute calls

	mu      sync.Mutex // guards the fields below
	current uuid.UUID
	cancel  context.CancelFunc
	closed  bool

	logger *slog.Logger
}

// NewSequentialExecutor creates a sequential executor.
func NewSequentialExecutor(logger *slog.Logger) *SequentialExecutor {
	return &SequentialExecutor{
		logger: logger.With("component", "sequential_executor"),
	}
}

// Execute runs the task body in the caller's control flow.
func (e *SequentialExecutor) Execute(ctx context.Context, t *Task) (any, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.current = t.ID
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.current = uuid.Nil
		e.cancel = nil
		e.mu.Unlock()
	}()

	return runJob(runCtx, t)
}

// Cancel interrupts the currently running task. It returns false when the
// identified task is not the one in flight.
func (e *SequentialExecutor) Cancel(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != id || e.cancel == nil {
		return false
	}
	e.logger.Debug("cancelling running task", "task_id", id)
	e.cancel()
	return true
}

// Shutdown stops accepting new work. With wait it blocks until the
// in-flight task finishes; without it the in-flight task is cancelled.
func (e *SequentialExecutor) Shutdown(wait bool) {
	e.mu.Lock()
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if !wait && cancel != nil {
		cancel()
	}
	if wait {
		// Acquiring the execution lock waits out any in-flight task.
		e.execMu.Lock()
		e.execMu.Unlock() //nolint:staticcheck // empty critical section is the wait
	}
}

// Metrics returns a snapshot of the executor's load.
func (e *SequentialExecutor) Metrics() ExecutorMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	if e.current != uuid.Nil {
		active = 1
	}
	return ExecutorMetrics{
		Mode:     ExecutorSequential,
		Active:   active,
		Capacity: 1,
		Idle:     active == 0,
	}
}
