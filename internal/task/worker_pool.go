package task

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// poolResult carries the outcome of one pooled execution back to the
// submitting goroutine.
type poolResult struct {
	result any
	err    error
}

// poolSubmission is one unit of queued work. A submission is "claimed"
// exactly once, by the worker that starts it, by Cancel, or by Shutdown;
// the claimant is the only sender on out.
type poolSubmission struct {
	task    *Task
	ctx     context.Context
	out     chan poolResult
	claimed bool // guarded by the pool mutex
}

// WorkerPoolConfig holds configuration options for the worker pool executor.
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to the host core count.
	WorkerCount int

	// QueueSize determines the buffer size for the submission channel.
	// If zero or negative, defaults to 64.
	QueueSize int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: runtime.NumCPU(),
		QueueSize:   64,
	}
}

// WorkerPoolExecutor runs task bodies on a fixed-size pool of worker
// goroutines. Each Execute submits a unit and blocks on its result channel.
// Cancel succeeds only while a unit is still queued; once a worker has
// picked it up the attempt runs to completion (or timeout).
type WorkerPoolExecutor struct {
	submissions chan *poolSubmission
	done        chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	pending map[uuid.UUID]*poolSubmission
	running map[uuid.UUID]context.CancelFunc
	closed  bool

	workers int
	logger  *slog.Logger
}

// NewWorkerPoolExecutor creates a worker pool executor and starts its
// workers immediately.
func NewWorkerPoolExecutor(config WorkerPoolConfig, logger *slog.Logger) *WorkerPoolExecutor {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	e := &WorkerPoolExecutor{
		submissions: make(chan *poolSubmission, queueSize),
		done:        make(chan struct{}),
		pending:     make(map[uuid.UUID]*poolSubmission),
		running:     make(map[uuid.UUID]context.CancelFunc),
		workers:     workerCount,
		logger:      logger.With("component", "worker_pool_executor"),
	}

	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	return e
}

// Execute submits the task to the pool and blocks until its outcome is
// available.
func (e *WorkerPoolExecutor) Execute(ctx context.Context, t *Task) (any, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	sub := &poolSubmission{
		task: t,
		ctx:  ctx,
		out:  make(chan poolResult, 1),
	}
	e.pending[t.ID] = sub
	e.mu.Unlock()

	select {
	case e.submissions <- sub:
	case <-ctx.Done():
		if e.claim(sub) {
			return nil, context.Canceled
		}
	case <-e.done:
		if e.claim(sub) {
			return nil, ErrExecutorClosed
		}
	}

	res := <-sub.out
	return res.result, res.err
}

// claim marks the submission as owned by the caller. It returns false when
// another party (a worker, Cancel, or Shutdown) already claimed it, in
// which case that party will deliver the outcome.
func (e *WorkerPoolExecutor) claim(sub *poolSubmission) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sub.claimed {
		return false
	}
	sub.claimed = true
	delete(e.pending, sub.task.ID)
	return true
}

// worker consumes submissions until shutdown.
func (e *WorkerPoolExecutor) worker(id int) {
	defer e.wg.Done()

	e.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-e.done:
			e.logger.Debug("stopping worker", "worker_id", id)
			return
		case sub := <-e.submissions:
			e.process(sub, id)
		}
	}
}

// process runs one claimed submission to completion.
func (e *WorkerPoolExecutor) process(sub *poolSubmission, workerID int) {
	t := sub.task

	e.mu.Lock()
	if sub.claimed {
		// Cancelled or shut down while queued; the claimant already
		// delivered the outcome.
		e.mu.Unlock()
		return
	}
	sub.claimed = true
	delete(e.pending, t.ID)

	runCtx, cancel := context.WithCancel(sub.ctx)
	e.running[t.ID] = cancel
	e.mu.Unlock()

	e.logger.Debug("processing task", "task_id", t.ID, "worker_id", workerID)

	result, err := runJob(runCtx, t)

	e.mu.Lock()
	delete(e.running, t.ID)
	e.mu.Unlock()
	cancel()

	sub.out <- poolResult{result: result, err: err}
}

// Cancel prevents a queued task from starting. A task already picked up by
// a worker cannot be cancelled and Cancel returns false.
func (e *WorkerPoolExecutor) Cancel(id uuid.UUID) bool {
	e.mu.Lock()
	sub, ok := e.pending[id]
	if !ok || sub.claimed {
		e.mu.Unlock()
		return false
	}
	sub.claimed = true
	delete(e.pending, id)
	e.mu.Unlock()

	e.logger.Debug("cancelled queued task", "task_id", id)
	sub.out <- poolResult{err: context.Canceled}
	return true
}

// Shutdown stops accepting new work, fails everything still queued, and
// with wait=false cancels in-flight units. It blocks until the workers
// have exited.
func (e *WorkerPoolExecutor) Shutdown(wait bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true

	for id, sub := range e.pending {
		if sub.claimed {
			continue
		}
		sub.claimed = true
		delete(e.pending, id)
		sub.out <- poolResult{err: ErrExecutorClosed}
	}

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

	close(e.done)
	e.wg.Wait()
	e.logger.Debug("worker pool shut down", "waited", wait)
}

// Metrics returns a snapshot of the executor's load.
func (e *WorkerPoolExecutor) Metrics() ExecutorMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := len(e.running)
	return ExecutorMetrics{
		Mode:     ExecutorPool,
		Active:   active,
		Capacity: e.workers,
		Idle:     active == 0 && len(e.pending) == 0,
	}
}
