package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// RunFunc performs one migration run. Outcomes are appended to result as
// records finish, and logger writes into the job's log buffer.
type RunFunc func(ctx context.Context, dryRun bool, logger *slog.Logger, result *models.RunResult) error

// Server holds shared state for all API handlers.
type Server struct {
	Jobs *models.JobStore
	Run  RunFunc
	// LogLevel is the level of the per-job logger.
	LogLevel slog.Level
	// LogOutput also receives every job log line. Defaults to os.Stderr.
	LogOutput io.Writer

	// startMu makes the live-run check and job creation atomic.
	startMu sync.Mutex
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Migration
		r.Post("/migrate/preview", s.MigrationPreviewHandler)
		r.Post("/migrate/run", s.MigrationRunHandler)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
		r.Get("/jobs/{id}/results", s.GetJobResults)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	return r
}

func (s *Server) logOutput() io.Writer {
	if s.LogOutput != nil {
		return s.LogOutput
	}
	return os.Stderr
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
