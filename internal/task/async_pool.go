package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// AsyncExecutor bounds in-flight task bodies with a channel semaphore.
// Bodies are ordinary goroutines that may only be interrupted where they
// observe their context, so cancellation is cooperative: Cancel signals the
// unit's context and the request is honored the next time the body reaches
// a context-aware suspension point.
type AsyncExecutor struct {
	sem   chan struct{}
	limit int

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	closed  bool

	logger *slog.Logger
}

// NewAsyncExecutor creates an async executor allowing up to limit
// concurrent units. A non-positive limit defaults to 8.
func NewAsyncExecutor(limit int, logger *slog.Logger) *AsyncExecutor {
	if limit <= 0 {
		limit = 8
	}
	return &AsyncExecutor{
		sem:     make(chan struct{}, limit),
		limit:   limit,
		running: make(map[uuid.UUID]context.CancelFunc),
		logger:  logger.With("component", "async_executor"),
	}
}

// Execute acquires a semaphore slot and runs the task body, blocking until
// the body finishes, times out, or is cancelled.
func (e *AsyncExecutor) Execute(ctx context.Context, t *Task) (any, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	e.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, context.Canceled
	}
	defer func() { <-e.sem }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	e.running[t.ID] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, t.ID)
		e.mu.Unlock()
	}()

	return runJob(runCtx, t)
}

// Cancel requests cooperative cancellation of an in-flight unit. Returns
// true when the unit was found and signalled.
func (e *AsyncExecutor) Cancel(id uuid.UUID) bool {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.logger.Debug("requesting cooperative cancellation", "task_id", id)
	cancel()
	return true
}

// Shutdown stops accepting new work. With wait it drains in-flight units
// by acquiring every semaphore slot; without it the units are cancelled.
func (e *AsyncExecutor) Shutdown(wait bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	var cancels []context.CancelFunc
	if !wait {
		for _, cancel := range e.running {
			cancels = append(cancels, cancel)
		}
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if wait {
		for i := 0; i < e.limit; i++ {
			e.sem <- struct{}{}
		}
		for i := 0; i < e.limit; i++ {
			<-e.sem
		}
	}
	e.logger.Debug("async executor shut down", "waited", wait)
}

// Metrics returns a snapshot of the executor's load.
func (e *AsyncExecutor) Metrics() ExecutorMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := len(e.running)
	return ExecutorMetrics{
		Mode:     ExecutorAsync,
		Active:   active,
		Capacity: e.limit,
		Idle:     active == 0,
	}
}
