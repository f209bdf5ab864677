package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/events"
)

// ErrManagerClosed indicates an operation was attempted after Shutdown.
var ErrManagerClosed = errors.New("task manager is shut down")

// ManagerConfig holds configuration for the task manager.
type ManagerConfig struct {
	// TickInterval is the scheduler loop period. Promotion of waiting
	// tasks and dispatch of pending tasks happen once per tick.
	TickInterval time.Duration

	// MaxConcurrent is the global ceiling on simultaneously running tasks,
	// across all executor strategies.
	MaxConcurrent int

	// DefaultExecutor is the strategy used when a task spec does not
	// request one explicitly.
	DefaultExecutor ExecutorMode

	// WorkerCount sizes the worker pool executor. Zero means the host
	// core count.
	WorkerCount int

	// AsyncLimit bounds the async executor's in-flight units.
	AsyncLimit int

	// QueueSize is the worker pool's submission buffer.
	QueueSize int
}

// DefaultManagerConfig returns a ManagerConfig with reasonable defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TickInterval:    100 * time.Millisecond,
		MaxConcurrent:   10,
		DefaultExecutor: ExecutorPool,
		AsyncLimit:      8,
		QueueSize:       64,
	}
}

// ManagerMetrics is a point-in-time snapshot of the manager's state.
type ManagerMetrics struct {
	Total            int                              `json:"total"`
	StatusCounts     map[TaskStatus]int               `json:"status_counts"`
	MaxConcurrent    int                              `json:"max_concurrent"`
	SchedulerRunning bool                             `json:"scheduler_running"`
	Executors        map[ExecutorMode]ExecutorMetrics `json:"executors"`
}

// Manager owns the task registry and drives the scheduling loop. All task
// state transitions go through the manager's mutex; the lock is never held
// across an executor call, so task bodies always run outside it.
type Manager struct {
	mu         sync.Mutex
	tasks      map[uuid.UUID]*Task
	running    map[uuid.UUID]struct{}
	completed  map[uuid.UUID]struct{}
	failed     map[uuid.UUID]struct{}
	cancelled  map[uuid.UUID]struct{}
	waiting    map[uuid.UUID]struct{}
	claimed    map[uuid.UUID]struct{} // tasks owned by a run driver (running or backing off)
	runCancels map[uuid.UUID]context.CancelFunc
	nextSeq    uint64
	shutdown   bool

	executors map[ExecutorMode]Executor
	config    ManagerConfig
	publisher events.Publisher
	logger    *slog.Logger

	loopCancel  context.CancelFunc
	loopRunning bool
	loopWG      sync.WaitGroup
	driverWG    sync.WaitGroup
}

// NewManager creates a task manager with one executor instance per
// strategy. The publisher may be nil, in which case lifecycle events are
// dropped.
func NewManager(config ManagerConfig, publisher events.Publisher, logger *slog.Logger) *Manager {
	if config.TickInterval <= 0 {
		config.TickInterval = 100 * time.Millisecond
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if !config.DefaultExecutor.Valid() {
		config.DefaultExecutor = ExecutorPool
	}

	return &Manager{
		tasks:      make(map[uuid.UUID]*Task),
		running:    make(map[uuid.UUID]struct{}),
		completed:  make(map[uuid.UUID]struct{}),
		failed:     make(map[uuid.UUID]struct{}),
		cancelled:  make(map[uuid.UUID]struct{}),
		waiting:    make(map[uuid.UUID]struct{}),
		claimed:    make(map[uuid.UUID]struct{}),
		runCancels: make(map[uuid.UUID]context.CancelFunc),
		executors: map[ExecutorMode]Executor{
			ExecutorSequential: NewSequentialExecutor(logger),
			ExecutorPool: NewWorkerPoolExecutor(WorkerPoolConfig{
				WorkerCount: config.WorkerCount,
				QueueSize:   config.QueueSize,
			}, logger),
			ExecutorAsync: NewAsyncExecutor(config.AsyncLimit, logger),
		},
		config:    config,
		publisher: publisher,
		logger:    logger.With("component", "task_manager"),
	}
}

// Register validates the spec and adds the task to the registry. The
// returned ID is freshly generated when the spec's ID is empty or collides
// with an existing task. Every dependency must already be registered;
// otherwise a DependencyError is returned and the task is not added.
func (m *Manager) Register(spec TaskSpec) (uuid.UUID, error) {
	if spec.Job == nil {
		return uuid.Nil, ErrNilJob
	}

	mode := spec.Executor
	if mode == "" {
		mode = m.config.DefaultExecutor
	}
	if !mode.Valid() {
		return uuid.Nil, fmt.Errorf("unknown executor mode %q", mode)
	}

	maxRetries := spec.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return uuid.Nil, ErrManagerClosed
	}

	id := spec.ID
	if id == uuid.Nil {
		id = uuid.New()
	} else if _, exists := m.tasks[id]; exists {
		id = uuid.New()
	}

	var missing []uuid.UUID
	for _, dep := range spec.Dependencies {
		if _, ok := m.tasks[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		m.mu.Unlock()
		return uuid.Nil, &DependencyError{TaskID: id, Missing: missing}
	}

	t := &Task{
		ID:           id,
		Name:         spec.Name,
		Description:  spec.Description,
		Tags:         append([]string(nil), spec.Tags...),
		Priority:     spec.Priority,
		Status:       TaskStatusPending,
		Dependencies: append([]uuid.UUID(nil), spec.Dependencies...),
		MaxRetries:   maxRetries,
		RetryDelay:   spec.RetryDelay,
		Timeout:      spec.Timeout,
		CreatedAt:    time.Now(),
		job:          spec.Job,
		executor:     mode,
		seq:          m.nextSeq,
	}
	m.nextSeq++

	if len(t.Dependencies) > 0 && !t.IsReady(m.completed) {
		t.Status = TaskStatusWaiting
		m.waiting[id] = struct{}{}
	}

	m.tasks[id] = t
	status := t.Status
	m.mu.Unlock()

	m.logger.Debug("task registered",
		"task_id", id,
		"name", spec.Name,
		"priority", spec.Priority.String(),
		"executor", mode,
		"status", status)
	m.publishEvent(events.EventTaskCreated, id, map[string]any{
		"name":     spec.Name,
		"priority": spec.Priority.String(),
		"status":   status.String(),
	})

	return id, nil
}

// Start launches the scheduler loop. Starting an already running manager
// is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loopRunning || m.shutdown {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.loopRunning = true
	m.loopWG.Add(1)
	go m.schedulerLoop(ctx)

	m.logger.Info("scheduler loop started",
		"tick_interval", m.config.TickInterval,
		"max_concurrent", m.config.MaxConcurrent)
}

// Stop halts the scheduler loop. Tasks already dispatched keep running.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.loopRunning {
		m.mu.Unlock()
		return
	}
	m.loopRunning = false
	m.loopCancel()
	m.mu.Unlock()

	m.loopWG.Wait()
	m.logger.Info("scheduler loop stopped")
}

// Shutdown stops the scheduler loop, cancels every in-flight task, waits
// for their drivers to finalize, and shuts down the executors.
func (m *Manager) Shutdown(wait bool) {
	m.Stop()

	m.mu.Lock()
	m.shutdown = true
	cancels := make([]context.CancelFunc, 0, len(m.runCancels))
	for _, cancel := range m.runCancels {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.driverWG.Wait()

	for _, exec := range m.executors {
		exec.Shutdown(wait)
	}
	m.logger.Info("task manager shut down", "waited", wait)
}

// schedulerLoop drives promotion and dispatch on a fixed tick until the
// loop context is cancelled.
func (m *Manager) schedulerLoop(ctx context.Context) {
	defer m.loopWG.Done()

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs one scheduling iteration: promote ready waiting tasks,
// then dispatch pending tasks up to the free capacity, highest priority
// first with registration order as the stable tie-break.
func (m *Manager) tick() {
	m.mu.Lock()

	for id := range m.waiting {
		t := m.tasks[id]
		if t.IsReady(m.completed) {
			t.Status = TaskStatusPending
			delete(m.waiting, id)
			m.logger.Debug("promoted waiting task", "task_id", id)
		}
	}

	capacity := m.config.MaxConcurrent - len(m.running)
	if capacity <= 0 {
		m.mu.Unlock()
		return
	}

	var ready []*Task
	for _, t := range m.tasks {
		if t.Status != TaskStatusPending {
			continue
		}
		if _, owned := m.claimed[t.ID]; owned {
			continue
		}
		ready = append(ready, t)
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	if len(ready) > capacity {
		ready = ready[:capacity]
	}

	type dispatchRecord struct {
		t   *Task
		ctx context.Context
	}
	dispatched := make([]dispatchRecord, 0, len(ready))
	for _, t := range ready {
		runCtx := m.claimLocked(t)
		dispatched = append(dispatched, dispatchRecord{t: t, ctx: runCtx})
	}
	m.mu.Unlock()

	for _, d := range dispatched {
		m.publishEvent(events.EventTaskStarted, d.t.ID, map[string]any{
			"attempt": d.t.RetryCount + 1,
		})
		m.driverWG.Add(1)
		go func(runCtx context.Context, t *Task) {
			defer m.driverWG.Done()
			_, _ = m.runClaimed(runCtx, t)
		}(d.ctx, d.t)
	}
}

// claimLocked transitions a pending task to RUNNING and registers the run
// driver's cancel func. Callers must hold m.mu.
func (m *Manager) claimLocked(t *Task) context.Context {
	t.Status = TaskStatusRunning
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	m.running[t.ID] = struct{}{}
	m.claimed[t.ID] = struct{}{}

	runCtx, cancel := context.WithCancel(context.Background())
	m.runCancels[t.ID] = cancel
	return runCtx
}

// runClaimed drives a claimed task through execute/retry until it reaches
// a terminal state, then releases the claim.
func (m *Manager) runClaimed(runCtx context.Context, t *Task) (any, error) {
	defer func() {
		m.mu.Lock()
		delete(m.claimed, t.ID)
		cancel, ok := m.runCancels[t.ID]
		delete(m.runCancels, t.ID)
		m.mu.Unlock()
		if ok {
			cancel()
		}
	}()

	exec := m.executors[t.executor]

	for {
		result, err := exec.Execute(runCtx, t)
		if err == nil {
			m.finalizeSuccess(t, result)
			return result, nil
		}
		// Only attempt failures enter the retry path. Anything else is the
		// engine's own cancellation (or executor shutdown); an ExecutionError
		// can wrap a context sentinel from the body's downstream work, so the
		// failure check must come first.
		isFailure := errors.Is(err, ErrTaskExecution) || errors.Is(err, ErrTaskTimeout)
		if !isFailure {
			m.finalizeCancelled(t)
			return nil, context.Canceled
		}

		m.mu.Lock()
		if t.RetryCount >= t.MaxRetries {
			m.mu.Unlock()
			m.finalizeFailure(t, err)
			return nil, err
		}
		t.RetryCount++
		attempt := t.RetryCount
		delay := backoffDelay(t.RetryDelay, attempt)
		t.Status = TaskStatusPending
		delete(m.running, t.ID)
		m.mu.Unlock()

		m.logger.Warn("task attempt failed, backing off",
			"task_id", t.ID,
			"attempt", attempt,
			"max_retries", t.MaxRetries,
			"backoff", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-runCtx.Done():
			m.finalizeCancelled(t)
			return nil, context.Canceled
		}

		m.mu.Lock()
		if t.Status != TaskStatusPending {
			// Cancelled out from under us during backoff.
			m.mu.Unlock()
			return nil, context.Canceled
		}
		t.Status = TaskStatusRunning
		m.running[t.ID] = struct{}{}
		m.mu.Unlock()

		m.publishEvent(events.EventTaskStarted, t.ID, map[string]any{
			"attempt": attempt + 1,
		})
	}
}

// maxBackoff caps exponential retry delays; without it a large retry
// budget overflows time.Duration and time.After fires immediately.
const maxBackoff = time.Hour

// backoffDelay computes base * 2^(attempt-1), saturating at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	shift := uint(attempt - 1)
	if shift >= 63 || base > maxBackoff>>shift {
		return maxBackoff
	}
	return base << shift
}

// finalizeSuccess records a completed attempt.
func (m *Manager) finalizeSuccess(t *Task, result any) {
	m.mu.Lock()
	if t.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	t.Status = TaskStatusCompleted
	t.Result = result
	t.Err = nil
	t.Progress = 1.0
	t.CompletedAt = time.Now()
	delete(m.running, t.ID)
	m.completed[t.ID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("task completed", "task_id", t.ID, "retries", t.RetryCount)
	m.publishEvent(events.EventTaskCompleted, t.ID, map[string]any{
		"retry_count": t.RetryCount,
	})
}

// finalizeFailure records a permanently failed task.
func (m *Manager) finalizeFailure(t *Task, err error) {
	m.mu.Lock()
	if t.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	t.Status = TaskStatusFailed
	t.Err = err
	t.Result = nil
	t.CompletedAt = time.Now()
	delete(m.running, t.ID)
	m.failed[t.ID] = struct{}{}
	m.mu.Unlock()

	m.logger.Error("task failed permanently",
		"task_id", t.ID,
		"retries", t.RetryCount,
		"error", err)
	m.publishEvent(events.EventTaskFailed, t.ID, map[string]any{
		"retry_count": t.RetryCount,
		"error":       err.Error(),
	})
}

// finalizeCancelled records a cancelled task.
func (m *Manager) finalizeCancelled(t *Task) {
	m.mu.Lock()
	if t.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	t.Status = TaskStatusCancelled
	t.CompletedAt = time.Now()
	delete(m.running, t.ID)
	delete(m.waiting, t.ID)
	m.cancelled[t.ID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("task cancelled", "task_id", t.ID)
	m.publishEvent(events.EventTaskCancelled, t.ID, nil)
}

// Execute manually triggers a task. With wait=false it validates the task
// and returns immediately, leaving dispatch to the scheduler loop. With
// wait=true it blocks, polling until dependencies are satisfied, then
// drives the task synchronously through its retry cycle and returns the
// final result or error. Terminal tasks return their stored outcome.
func (m *Manager) Execute(ctx context.Context, id uuid.UUID, wait bool) (any, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, &NotFoundError{TaskID: id}
	}

	switch t.Status {
	case TaskStatusCompleted:
		result := t.Result
		m.mu.Unlock()
		return result, nil
	case TaskStatusFailed:
		err := t.Err
		m.mu.Unlock()
		return nil, err
	case TaskStatusCancelled:
		m.mu.Unlock()
		return nil, context.Canceled
	case TaskStatusRunning:
		m.mu.Unlock()
		return nil, &InvalidStateError{TaskID: id, Status: TaskStatusRunning, Op: "execute"}
	}
	if _, owned := m.claimed[id]; owned {
		m.mu.Unlock()
		return nil, &InvalidStateError{TaskID: id, Status: t.Status, Op: "execute"}
	}
	m.mu.Unlock()

	if !wait {
		return nil, nil
	}

	for {
		m.mu.Lock()
		if t.Status.IsTerminal() {
			status, result, err := t.Status, t.Result, t.Err
			m.mu.Unlock()
			if status == TaskStatusCancelled {
				return nil, context.Canceled
			}
			return result, err
		}
		if _, owned := m.claimed[id]; owned || t.Status == TaskStatusRunning {
			m.mu.Unlock()
			return nil, &InvalidStateError{TaskID: id, Status: TaskStatusRunning, Op: "execute"}
		}
		if t.Status == TaskStatusWaiting {
			if t.IsReady(m.completed) {
				t.Status = TaskStatusPending
				delete(m.waiting, id)
			} else {
				m.mu.Unlock()
				select {
				case <-time.After(m.config.TickInterval):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
		runCtx := m.claimLocked(t)
		m.mu.Unlock()

		m.publishEvent(events.EventTaskStarted, id, map[string]any{
			"attempt": t.RetryCount + 1,
		})
		return m.runClaimed(runCtx, t)
	}
}

// Cancel requests cancellation of a task. Pending and waiting tasks are
// cancelled immediately. Running tasks are delegated to their executor and
// finalize as cancelled only when the executor confirms the interruption.
func (m *Manager) Cancel(id uuid.UUID) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return false
	}

	if t.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	if t.Status == TaskStatusRunning {
		exec := m.executors[t.executor]
		m.mu.Unlock()
		if exec.Cancel(id) {
			// The run driver observes the cancellation and finalizes.
			return true
		}
		return false
	}

	// Pending or waiting. A claimed pending task is in retry backoff; its
	// driver owns the transition, so signal it instead of finalizing here.
	if _, owned := m.claimed[id]; owned {
		cancel := m.runCancels[id]
		m.mu.Unlock()
		if cancel == nil {
			return false
		}
		cancel()
		return true
	}

	t.Status = TaskStatusCancelled
	t.CompletedAt = time.Now()
	delete(m.waiting, id)
	m.cancelled[id] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("task cancelled before dispatch", "task_id", id)
	m.publishEvent(events.EventTaskCancelled, id, nil)
	return true
}

// UpdateProgress stores a clamped progress value and message for the task.
// Returns false when the task does not exist or is already terminal.
func (m *Manager) UpdateProgress(id uuid.UUID, value float64, message string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	t.UpdateProgress(value, message)
	progress := t.Progress
	m.mu.Unlock()

	m.publishEvent(events.EventTaskProgress, id, map[string]any{
		"progress": progress,
		"message":  message,
	})
	return true
}

// GetTask returns a snapshot of the task.
func (m *Manager) GetTask(id uuid.UUID) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, &NotFoundError{TaskID: id}
	}
	return t.Snapshot(), nil
}

// GetStatus returns the task's current status.
func (m *Manager) GetStatus(id uuid.UUID) (TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return "", &NotFoundError{TaskID: id}
	}
	return t.Status, nil
}

// GetResult returns the task's stored result, nil until completion.
func (m *Manager) GetResult(id uuid.UUID) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, &NotFoundError{TaskID: id}
	}
	return t.Result, nil
}

// GetError returns the task's stored execution error, nil unless the task
// has failed. The second return value reports lookup failure.
func (m *Manager) GetError(id uuid.UUID) (error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, &NotFoundError{TaskID: id}
	}
	return t.Err, nil
}

// GetProgress returns the task's progress value and message.
func (m *Manager) GetProgress(id uuid.UUID) (float64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return 0, "", &NotFoundError{TaskID: id}
	}
	return t.Progress, t.ProgressMessage, nil
}

// ListTasks returns snapshots of every registered task in registration
// order.
func (m *Manager) ListTasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		list = append(list, t.Snapshot())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

// Metrics returns a snapshot of task counts, the concurrency ceiling, the
// loop state, and per-executor metrics.
func (m *Manager) Metrics() ManagerMetrics {
	m.mu.Lock()
	counts := make(map[TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	metrics := ManagerMetrics{
		Total:            len(m.tasks),
		StatusCounts:     counts,
		MaxConcurrent:    m.config.MaxConcurrent,
		SchedulerRunning: m.loopRunning,
		Executors:        make(map[ExecutorMode]ExecutorMetrics, len(m.executors)),
	}
	m.mu.Unlock()

	for mode, exec := range m.executors {
		metrics.Executors[mode] = exec.Metrics()
	}
	return metrics
}

// publishEvent delivers a lifecycle event best-effort. Publisher failures
// are logged and swallowed; they never affect scheduling.
func (m *Manager) publishEvent(eventType events.EventType, taskID uuid.UUID, payload map[string]any) {
	if m.publisher == nil {
		return
	}
	event := events.NewTaskEvent(eventType, taskID, payload)
	if err := m.publisher.Publish(context.Background(), event); err != nil {
		m.logger.Warn("failed to publish task event",
			"event_type", eventType,
			"task_id", taskID,
			"error", err)
	}
}
