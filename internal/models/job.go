package models

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job represents an async migration run ("migrate" or "dry-run").
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output"`

	Result *RunResult `json:"-"`

	mu      sync.Mutex
	partial string
	cancel  context.CancelFunc
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// Write implements io.Writer so a log handler can target the job.
// Complete lines are appended to the output; a trailing partial line is
// kept until the next write.
func (j *Job) Write(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	buf := j.partial + string(p)
	lines := strings.Split(buf, "\n")
	j.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		j.Output = append(j.Output, line)
	}
	return len(p), nil
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// CurrentStatus returns the job status.
func (j *Job) CurrentStatus() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// Done reports whether the job has reached a final status.
func (j *Job) Done() bool {
	return j.CurrentStatus() != JobRunning
}

// Attach sets the run result the job reports on.
func (j *Job) Attach(r *RunResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Result = r
}

// RunResult returns the attached run result, or nil.
func (j *Job) RunResult() *RunResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Result
}

// SetCancel registers the function that stops the job's run.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel stops dispatching new records for the job.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish(JobCompleted, "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish(JobFailed, err)
}

// MarkCancelled marks the job as cancelled by the user.
func (j *Job) MarkCancelled() {
	j.finish(JobCancelled, "")
}

func (j *Job) finish(status, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.partial != "" {
		j.Output = append(j.Output, j.partial)
		j.partial = ""
	}
	j.Status = status
	j.Error = err
	now := time.Now()
	j.FinishedAt = &now
}

// JobView is a copy of the job safe to serialize while it runs.
type JobView struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Lines      int        `json:"lines"`
	Summary    *Summary   `json:"summary,omitempty"`
}

// View returns a snapshot of the job.
func (j *Job) View() JobView {
	j.mu.Lock()
	v := JobView{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Error:      j.Error,
		Lines:      len(j.Output),
	}
	result := j.Result
	j.mu.Unlock()
	if result != nil {
		s := result.Summary()
		v.Summary = &s
	}
	return v
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new job, assigning it a UUID.
func (s *JobStore) Create(jobType string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobRunning,
		StartedAt: time.Now(),
		Output:    []string{},
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// Running returns the first running job of the given type, or nil.
func (s *JobStore) Running(jobType string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.Type == jobType && !j.Done() {
			return j
		}
	}
	return nil
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}
