package models

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Action is the outcome classification of one record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionError   Action = "error"
)

// State is a step of the per-record pipeline.
type State string

const (
	StatePending        State = "pending"
	StateResolving      State = "resolving"
	StateUploadingMedia State = "uploading_media"
	StateUpserting      State = "upserting"
	StateDone           State = "done"
	StateError          State = "error"
)

var stateTransitions = map[State][]State{
	StatePending:        {StateResolving, StateDone, StateError},
	StateResolving:      {StateUploadingMedia, StateError},
	StateUploadingMedia: {StateUpserting, StateError},
	StateUpserting:      {StateDone, StateError},
}

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// RecordState tracks one record through the pipeline.
type RecordState struct {
	SourceID string
	current  State
	history  []State
}

// NewRecordState starts a record in the pending state.
func NewRecordState(sourceID string) *RecordState {
	return &RecordState{SourceID: sourceID, current: StatePending, history: []State{StatePending}}
}

// Current returns the current state.
func (rs *RecordState) Current() State {
	return rs.current
}

// History returns every state the record has passed through.
func (rs *RecordState) History() []State {
	out := make([]State, len(rs.history))
	copy(out, rs.history)
	return out
}

// Advance moves the record to next, rejecting transitions out of a
// terminal state or skipping a step.
func (rs *RecordState) Advance(next State) error {
	for _, allowed := range stateTransitions[rs.current] {
		if allowed == next {
			rs.current = next
			rs.history = append(rs.history, next)
			return nil
		}
	}
	return fmt.Errorf("record %s: invalid transition %s -> %s", rs.SourceID, rs.current, next)
}

// Outcome is the result of migrating one record. Outcomes are never
// modified once appended to a RunResult.
type Outcome struct {
	SourceID   string                 `json:"source_id"`
	Type       string                 `json:"type,omitempty"`
	Slug       string                 `json:"slug,omitempty"`
	Action     Action                 `json:"action"`
	RemoteID   int                    `json:"remote_id,omitempty"`
	Error      string                 `json:"error,omitempty"`
	FailedIn   State                  `json:"failed_in,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
	Duration   time.Duration          `json:"duration"`
	DryRun     bool                   `json:"dry_run,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Summary counts outcomes by action.
type Summary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// RunResult is the append-only list of per-record outcomes of one run.
type RunResult struct {
	ID        string
	DryRun    bool
	StartedAt time.Time

	mu           sync.RWMutex
	outcomes     []Outcome
	finishedAt   *time.Time
	undispatched int
	aborted      string
}

// RunSnapshot is a consistent, serializable view of a RunResult.
type RunSnapshot struct {
	ID         string     `json:"id"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Undispatched counts records never started because the run was cancelled.
	Undispatched int       `json:"undispatched,omitempty"`
	Aborted      string    `json:"aborted,omitempty"`
	Summary      Summary   `json:"summary"`
	Outcomes     []Outcome `json:"outcomes"`
}

// NewRunResult creates an empty result for the run with the given id.
func NewRunResult(id string, dryRun bool) *RunResult {
	return &RunResult{ID: id, DryRun: dryRun, StartedAt: time.Now()}
}

// Append records an outcome.
func (r *RunResult) Append(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns a copy of the outcomes in append order.
func (r *RunResult) Outcomes() []Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Outcome returns the outcome for a source identity.
func (r *RunResult) Outcome(sourceID string) (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.outcomes {
		if o.SourceID == sourceID {
			return o, true
		}
	}
	return Outcome{}, false
}

// Errors returns the error outcomes sorted by source identity.
func (r *RunResult) Errors() []Outcome {
	var errs []Outcome
	for _, o := range r.Outcomes() {
		if o.Action == ActionError {
			errs = append(errs, o)
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].SourceID < errs[j].SourceID })
	return errs
}

// Summary counts the outcomes by action.
func (r *RunResult) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Summary{Total: len(r.outcomes)}
	for _, o := range r.outcomes {
		switch o.Action {
		case ActionCreated:
			s.Created++
		case ActionUpdated:
			s.Updated++
		case ActionSkipped:
			s.Skipped++
		case ActionError:
			s.Errors++
		}
	}
	return s
}

// Finish stamps the finish time.
func (r *RunResult) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.finishedAt = &now
}

// Abort records the reason the whole run stopped early.
func (r *RunResult) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted == "" {
		r.aborted = reason
	}
}

// Aborted returns the abort reason, or "" if the run was not aborted.
func (r *RunResult) Aborted() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aborted
}

// AddUndispatched counts records that were never started.
func (r *RunResult) AddUndispatched(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.undispatched += n
}

// Snapshot returns a consistent copy of the result.
func (r *RunResult) Snapshot() RunSnapshot {
	summary := r.Summary()
	outcomes := r.Outcomes()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunSnapshot{
		ID:           r.ID,
		DryRun:       r.DryRun,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.finishedAt,
		Undispatched: r.undispatched,
		Aborted:      r.aborted,
		Summary:      summary,
		Outcomes:     outcomes,
	}
}
