package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Jobs.List()
	views := make([]models.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

// CancelJob stops dispatching records for a running job. Records already
// in flight finish.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Done() {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.Cancel()
	job.AppendLog("CANCELLED: migration stopped by user")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// GetJobResults returns the run result of a job, complete or in progress.
func (s *Server) GetJobResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	result := job.RunResult()
	if result == nil {
		writeError(w, http.StatusNotFound, "job has no results")
		return
	}
	writeJSON(w, http.StatusOK, result.Snapshot())
}
