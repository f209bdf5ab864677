package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ExecutorMode identifies a concurrency strategy.
type ExecutorMode string

// Supported executor modes.
const (
	// ExecutorSequential runs one task at a time in the caller's goroutine.
	ExecutorSequential ExecutorMode = "sequential"

	// ExecutorPool runs tasks on a fixed-size pool of worker goroutines.
	ExecutorPool ExecutorMode = "pool"

	// ExecutorAsync runs tasks as semaphore-bounded goroutines with
	// cooperative cancellation at the body's context-aware points.
	ExecutorAsync ExecutorMode = "async"
)

// Valid reports whether the mode names a known strategy.
func (m ExecutorMode) Valid() bool {
	switch m {
	case ExecutorSequential, ExecutorPool, ExecutorAsync:
		return true
	default:
		return false
	}
}

// ExecutorMetrics is a point-in-time snapshot of an executor's load.
type ExecutorMetrics struct {
	Mode     ExecutorMode `json:"mode"`
	Active   int          `json:"active"`
	Capacity int          `json:"capacity"`
	Idle     bool         `json:"idle"`
}

// Executor is the strategy interface that actually runs task bodies.
// All implementations enforce the task's per-attempt timeout and report
// cancellation as context.Canceled rather than a normal error.
type Executor interface {
	// Execute runs the task body once and blocks until it finishes,
	// times out, or is cancelled. A timeout is reported as a TimeoutError;
	// cancellation is reported as context.Canceled; any other body failure
	// is wrapped in an ExecutionError.
	Execute(ctx context.Context, t *Task) (any, error)

	// Cancel makes a best-effort attempt to stop the identified in-flight
	// unit. It returns true only if the unit was actually interrupted or
	// prevented from starting.
	Cancel(id uuid.UUID) bool

	// Shutdown stops accepting new work. When wait is true it blocks until
	// in-flight units drain; otherwise it cancels them.
	Shutdown(wait bool)

	// Metrics returns a snapshot of the executor's current load.
	Metrics() ExecutorMetrics
}

// runJob runs a task body under the task's timeout, translating context
// termination into the engine's error taxonomy. The body runs in its own
// goroutine so that a non-cooperative job can be detached when the timer
// fires; a detached body's eventual result is discarded.
func runJob(ctx context.Context, t *Task) (any, error) {
	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := t.job.Run(runCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.result, nil
		}
		// Classify by the engine's own context, not the body's error: a
		// body may surface a context sentinel from its own downstream
		// calls without this attempt having been cancelled or timed out.
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, &TimeoutError{TaskID: t.ID, Timeout: t.Timeout}
		case errors.Is(runCtx.Err(), context.Canceled):
			return nil, context.Canceled
		default:
			return nil, &ExecutionError{TaskID: t.ID, Cause: out.err}
		}
	case <-runCtx.Done():
		// The body did not observe its context in time; detach it.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{TaskID: t.ID, Timeout: t.Timeout}
		}
		return nil, context.Canceled
	}
}
