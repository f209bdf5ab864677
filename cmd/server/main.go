// Package main implements the entry point for the taskforge server, which
// exposes the task orchestration engine over HTTP: clients register units
// of work with priorities, dependencies, retry policy, and timeouts, and
// the engine schedules them across its executor strategies.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/taskforge/internal/api"
	"github.com/phrazzld/taskforge/internal/config"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/platform/logger"
	"github.com/phrazzld/taskforge/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// run wires the application together: configuration, logging, the event
// publisher, the task manager, and the HTTP server. The manager is owned
// here and passed by reference; there is no global instance.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"max_concurrent_tasks", cfg.Scheduler.MaxConcurrentTasks,
		"default_executor", cfg.Scheduler.DefaultExecutor)

	publisher := events.NewInMemoryPublisher(appLogger)
	publisher.RegisterHandler(&loggingHandler{logger: appLogger})

	manager := task.NewManager(task.ManagerConfig{
		TickInterval:    cfg.Scheduler.TickInterval,
		MaxConcurrent:   cfg.Scheduler.MaxConcurrentTasks,
		DefaultExecutor: task.ExecutorMode(cfg.Scheduler.DefaultExecutor),
		WorkerCount:     cfg.Scheduler.WorkerCount,
		AsyncLimit:      cfg.Scheduler.AsyncLimit,
		QueueSize:       cfg.Scheduler.QueueSize,
	}, publisher, appLogger)
	manager.Start()

	jobs := api.NewJobRegistry()
	registerBuiltinJobs(jobs)

	router := api.NewRouter(manager, jobs, cfg, appLogger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		manager.Shutdown(false)
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}

	manager.Shutdown(true)
	return nil
}

// loggingHandler mirrors every lifecycle event into the structured log.
// Real deployments register webhook or pub/sub handlers alongside it.
type loggingHandler struct {
	logger *slog.Logger
}

func (h *loggingHandler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	h.logger.Info("task lifecycle event",
		"event_type", event.Type,
		"task_id", event.TaskID,
		"event_id", event.ID)
	return nil
}

// registerBuiltinJobs installs the job types available to API callers.
func registerBuiltinJobs(jobs *api.JobRegistry) {
	jobs.Register("echo", func(params json.RawMessage) (task.Job, error) {
		var p struct {
			Message string `json:"message"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("invalid echo params: %w", err)
			}
		}
		return task.JobFunc(func(ctx context.Context) (any, error) {
			return p.Message, nil
		}), nil
	})

	jobs.Register("sleep", func(params json.RawMessage) (task.Job, error) {
		var p struct {
			Duration string `json:"duration"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("invalid sleep params: %w", err)
			}
		}
		d, err := time.ParseDuration(p.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid sleep duration: %w", err)
		}
		return task.JobFunc(func(ctx context.Context) (any, error) {
			select {
			case <-time.After(d):
				return fmt.Sprintf("slept %s", d), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}), nil
	})
}
