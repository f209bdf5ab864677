package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/api/shared"
	"github.com/phrazzld/taskforge/internal/platform/logger"
	"github.com/phrazzld/taskforge/internal/task"
)

// RegisterTaskRequest is the payload for creating a task. Job bodies are
// referenced declaratively by type name; the JobRegistry resolves them.
type RegisterTaskRequest struct {
	Name              string          `json:"name"                validate:"required,max=200"`
	Description       string          `json:"description"         validate:"max=2000"`
	JobType           string          `json:"job_type"            validate:"required"`
	Params            json.RawMessage `json:"params"`
	Priority          string          `json:"priority"            validate:"omitempty,oneof=low normal high critical"`
	Dependencies      []string        `json:"dependencies"        validate:"dive,uuid"`
	MaxRetries        int             `json:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds float64         `json:"retry_delay_seconds" validate:"gte=0"`
	TimeoutSeconds    float64         `json:"timeout_seconds"     validate:"gte=0"`
	Tags              []string        `json:"tags"`
	Executor          string          `json:"executor"            validate:"omitempty,oneof=sequential pool async"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	MaxRetries      int        `json:"max_retries"`
	RetryCount      int        `json:"retry_count"`
	Progress        float64    `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Result          any        `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	manager *task.Manager
	jobs    *JobRegistry
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(manager *task.Manager, jobs *JobRegistry, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		manager: manager,
		jobs:    jobs,
		logger:  logger.With(slog.String("component", "task_handler")),
	}
}

// RegisterTask handles POST /tasks requests.
func (h *TaskHandler) RegisterTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req RegisterTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("failed to decode register task request", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		log.Debug("register task request failed validation", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	job, err := h.jobs.Build(req.JobType, req.Params)
	if err != nil {
		log.Debug("failed to build job",
			slog.String("job_type", req.JobType),
			slog.String("error", err.Error()))
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	deps := make([]uuid.UUID, 0, len(req.Dependencies))
	for _, raw := range req.Dependencies {
		dep, err := uuid.Parse(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid dependency ID")
			return
		}
		deps = append(deps, dep)
	}

	spec := task.TaskSpec{
		Name:         req.Name,
		Description:  req.Description,
		Tags:         req.Tags,
		Job:          job,
		Priority:     task.ParsePriority(req.Priority),
		Dependencies: deps,
		MaxRetries:   req.MaxRetries,
		RetryDelay:   time.Duration(req.RetryDelaySeconds * float64(time.Second)),
		Timeout:      time.Duration(req.TimeoutSeconds * float64(time.Second)),
		Executor:     task.ExecutorMode(req.Executor),
	}

	id, err := h.manager.Register(spec)
	if err != nil {
		log.Debug("task registration rejected", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	registered, err := h.manager.GetTask(id)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to load registered task")
		return
	}

	log.Info("task registered via API",
		slog.String("task_id", id.String()),
		slog.String("job_type", req.JobType))
	shared.RespondWithJSON(w, r, http.StatusCreated, toTaskResponse(registered))
}

// GetTask handles GET /tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	t, err := h.manager.GetTask(id)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(t))
}

// ListTasks handles GET /tasks requests.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.manager.ListTasks()

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, toTaskResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// CancelTask handles POST /tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if _, err := h.manager.GetTask(id); err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	cancelled := h.manager.Cancel(id)
	log.Info("cancellation requested",
		slog.String("task_id", id.String()),
		slog.Bool("cancelled", cancelled))

	if !cancelled {
		err := &task.CancellationError{TaskID: id, Reason: "task is not in a cancellable state"}
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{Cancelled: true})
}

// GetMetrics handles GET /metrics requests.
func (h *TaskHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.manager.Metrics())
}

// parseTaskID extracts and parses the {id} URL parameter, writing a 400
// response on failure.
func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

// toTaskResponse converts a task snapshot into its API representation.
func toTaskResponse(t task.Task) TaskResponse {
	deps := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		deps = append(deps, dep.String())
	}

	resp := TaskResponse{
		ID:              t.ID.String(),
		Name:            t.Name,
		Description:     t.Description,
		Tags:            t.Tags,
		Priority:        t.Priority.String(),
		Status:          t.Status.String(),
		Dependencies:    deps,
		MaxRetries:      t.MaxRetries,
		RetryCount:      t.RetryCount,
		Progress:        t.Progress,
		ProgressMessage: t.ProgressMessage,
		Result:          t.Result,
		CreatedAt:       t.CreatedAt,
	}
	if t.Err != nil {
		resp.Error = t.Err.Error()
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		resp.StartedAt = &started
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}
