package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskforge/internal/api/middleware"
	"github.com/phrazzld/taskforge/internal/api/shared"
	"github.com/phrazzld/taskforge/internal/config"
	"github.com/phrazzld/taskforge/internal/task"
)

// NewRouter assembles the HTTP surface over the task manager. Health is
// unauthenticated; everything else sits behind JWT bearer auth.
func NewRouter(
	manager *task.Manager,
	jobs *JobRegistry,
	cfg *config.Config,
	logger *slog.Logger,
) chi.Router {
	taskHandler := NewTaskHandler(manager, jobs, logger)
	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.RegisterTask)
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{id}", taskHandler.GetTask)
			r.Post("/{id}/cancel", taskHandler.CancelTask)
		})
		r.Get("/metrics", taskHandler.GetMetrics)
	})

	return r
}
