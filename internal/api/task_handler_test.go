package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskforge/internal/config"
	"github.com/phrazzld/taskforge/internal/task"
)

const testJWTSecret = "integration-test-secret-key-0123456789"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAPI assembles a router over a real manager. The scheduler loop is
// left stopped so registered tasks stay in a deterministic state.
func newTestAPI(t *testing.T) (http.Handler, *task.Manager) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "info"},
		Auth:   config.AuthConfig{JWTSecret: testJWTSecret},
		Scheduler: config.SchedulerConfig{
			TickInterval:       10 * time.Millisecond,
			MaxConcurrentTasks: 5,
			DefaultExecutor:    "pool",
			AsyncLimit:         4,
			QueueSize:          16,
		},
	}

	logger := newTestLogger()
	manager := task.NewManager(task.ManagerConfig{
		TickInterval:  cfg.Scheduler.TickInterval,
		MaxConcurrent: cfg.Scheduler.MaxConcurrentTasks,
		AsyncLimit:    cfg.Scheduler.AsyncLimit,
		QueueSize:     cfg.Scheduler.QueueSize,
	}, nil, logger)
	t.Cleanup(func() { manager.Shutdown(false) })

	jobs := NewJobRegistry()
	jobs.Register("echo", func(params json.RawMessage) (task.Job, error) {
		var p struct {
			Message string `json:"message"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
		}
		return task.JobFunc(func(ctx context.Context) (any, error) {
			return p.Message, nil
		}), nil
	})
	jobs.Register("fail", func(params json.RawMessage) (task.Job, error) {
		return task.JobFunc(func(ctx context.Context) (any, error) {
			return nil, errors.New("always fails")
		}), nil
	})

	return NewRouter(manager, jobs, cfg, logger), manager
}

func signTestToken(t *testing.T, secret string, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "test-user",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testJWTSecret, time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func registerEchoTask(t *testing.T, handler http.Handler, name string) TaskResponse {
	t.Helper()

	rec := doRequest(t, handler, http.MethodPost, "/tasks", RegisterTaskRequest{
		Name:    name,
		JobType: "echo",
		Params:  json.RawMessage(`{"message":"hello"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRegisterTask(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	resp := registerEchoTask(t, handler, "echo test")

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "echo test", resp.Name)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "normal", resp.Priority)
	assert.Equal(t, 0.0, resp.Progress)
}

func TestRegisterTask_WithOptions(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	dep := registerEchoTask(t, handler, "upstream")

	rec := doRequest(t, handler, http.MethodPost, "/tasks", RegisterTaskRequest{
		Name:              "downstream",
		JobType:           "echo",
		Priority:          "critical",
		Dependencies:      []string{dep.ID},
		MaxRetries:        3,
		RetryDelaySeconds: 0.5,
		TimeoutSeconds:    5,
		Tags:              []string{"nightly"},
		Executor:          "async",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "critical", resp.Priority)
	assert.Equal(t, "waiting", resp.Status)
	assert.Equal(t, []string{dep.ID}, resp.Dependencies)
	assert.Equal(t, 3, resp.MaxRetries)
	assert.Equal(t, []string{"nightly"}, resp.Tags)
}

func TestRegisterTask_InvalidBody(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testJWTSecret, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterTask_MissingName(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodPost, "/tasks", RegisterTaskRequest{JobType: "echo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterTask_UnknownJobType(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodPost, "/tasks", RegisterTaskRequest{
		Name:    "mystery",
		JobType: "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown job type")
}

func TestRegisterTask_MalformedDependency(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodPost, "/tasks", RegisterTaskRequest{
		Name:         "bad dep",
		JobType:      "echo",
		Dependencies: []string{"not-a-uuid"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterTask_UnknownDependency(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodPost, "/tasks", RegisterTaskRequest{
		Name:         "orphan",
		JobType:      "echo",
		Dependencies: []string{uuid.NewString()},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "dependency not found")
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	created := registerEchoTask(t, handler, "lookup me")

	rec := doRequest(t, handler, http.MethodGet, "/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "lookup me", resp.Name)
}

func TestGetTask_NotFound(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTask_InvalidID(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/tasks/banana", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	registerEchoTask(t, handler, "first")
	registerEchoTask(t, handler, "second")

	rec := doRequest(t, handler, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "first", resp[0].Name)
	assert.Equal(t, "second", resp[1].Name)
}

func TestCancelTask(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	created := registerEchoTask(t, handler, "doomed")

	rec := doRequest(t, handler, http.MethodPost, "/tasks/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cancelled)

	// A second cancel hits a terminal task and reports a conflict.
	rec = doRequest(t, handler, http.MethodPost, "/tasks/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not be cancelled")
}

func TestCancelTask_NotFound(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodPost, "/tasks/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMetrics(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	registerEchoTask(t, handler, "counted")

	rec := doRequest(t, handler, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics task.ManagerMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, 1, metrics.Total)
	assert.Equal(t, 5, metrics.MaxConcurrent)
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestTasks_RequireAuth(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
