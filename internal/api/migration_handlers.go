package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// Job types.
const (
	JobMigrate = "migrate"
	JobDryRun  = "dry-run"
)

// MigrationPreviewHandler starts an async dry-run job.
func (s *Server) MigrationPreviewHandler(w http.ResponseWriter, r *http.Request) {
	s.startMu.Lock()
	job := s.start(JobDryRun, true)
	s.startMu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// MigrationRunHandler starts an async live run. Only one live run may be
// active at a time.
func (s *Server) MigrationRunHandler(w http.ResponseWriter, r *http.Request) {
	s.startMu.Lock()
	if running := s.Jobs.Running(JobMigrate); running != nil {
		s.startMu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a migration is already running",
			"job_id": running.ID,
		})
		return
	}
	job := s.start(JobMigrate, false)
	s.startMu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) start(jobType string, dryRun bool) *models.Job {
	job := s.Jobs.Create(jobType)
	result := models.NewRunResult(job.ID, dryRun)
	job.Attach(result)

	ctx, cancel := context.WithCancel(context.Background())
	job.SetCancel(cancel)
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(s.logOutput(), job), &slog.HandlerOptions{Level: s.LogLevel}))
	logger = logger.With("job", job.ID)

	go func() {
		defer cancel()
		err := s.Run(ctx, dryRun, logger, result)
		switch {
		case err == nil:
			job.Complete()
		case errors.Is(err, context.Canceled):
			job.MarkCancelled()
		default:
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
		}
	}()
	return job
}
