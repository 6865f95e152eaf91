package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/utils/v4"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// ReportEntry is one record in the run report.
type ReportEntry struct {
	SourceID string   `json:"source_id"`
	Type     string   `json:"type,omitempty"`
	Slug     string   `json:"slug,omitempty"`
	RemoteID int      `json:"remote_id,omitempty"`
	Error    string   `json:"error,omitempty"`
	FailedIn string   `json:"failed_in,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Duration float64  `json:"duration_seconds"`
	// Payload is the computed request body, reported in dry runs.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Report is the JSON document written at the end of a run.
type Report struct {
	RunID        string         `json:"run_id"`
	DryRun       bool           `json:"dry_run"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Aborted      string         `json:"aborted,omitempty"`
	Undispatched int            `json:"undispatched,omitempty"`
	Created      []ReportEntry  `json:"created"`
	Updated      []ReportEntry  `json:"updated"`
	Skipped      []ReportEntry  `json:"skipped"`
	Failed       []ReportEntry  `json:"failed"`
	Summary      models.Summary `json:"summary"`
}

// BuildReport groups a run's outcomes by action.
func BuildReport(s models.RunSnapshot) *Report {
	rep := &Report{
		RunID:        s.ID,
		DryRun:       s.DryRun,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Aborted:      s.Aborted,
		Undispatched: s.Undispatched,
		Created:      []ReportEntry{},
		Updated:      []ReportEntry{},
		Skipped:      []ReportEntry{},
		Failed:       []ReportEntry{},
		Summary:      s.Summary,
	}
	for _, o := range s.Outcomes {
		e := ReportEntry{
			SourceID: o.SourceID,
			Type:     o.Type,
			Slug:     o.Slug,
			RemoteID: o.RemoteID,
			Error:    o.Error,
			FailedIn: string(o.FailedIn),
			Warnings: o.Warnings,
			Duration: o.Duration.Seconds(),
			Payload:  o.Payload,
		}
		switch o.Action {
		case models.ActionCreated:
			rep.Created = append(rep.Created, e)
		case models.ActionUpdated:
			rep.Updated = append(rep.Updated, e)
		case models.ActionSkipped:
			rep.Skipped = append(rep.Skipped, e)
		default:
			rep.Failed = append(rep.Failed, e)
		}
	}
	return rep
}

// WriteReport writes the report to path atomically.
func WriteReport(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report dir: %w", err)
		}
	}
	if err := utils.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
