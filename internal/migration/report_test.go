package migration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

func sampleResult() *models.RunResult {
	res := models.NewRunResult("run-1", false)
	res.Append(models.Outcome{SourceID: "a", Type: "post", Action: models.ActionCreated, RemoteID: 10, Duration: 1500 * time.Millisecond})
	res.Append(models.Outcome{SourceID: "b", Type: "page", Action: models.ActionUpdated, RemoteID: 11, Warnings: []string{"matched by title"}})
	res.Append(models.Outcome{SourceID: "c", Type: "post", Action: models.ActionSkipped, RemoteID: 12})
	res.Append(models.Outcome{SourceID: "d", Type: "post", Action: models.ActionError, Error: "boom", FailedIn: models.StateUploadingMedia})
	res.Finish()
	return res
}

func TestBuildReport(t *testing.T) {
	rep := BuildReport(sampleResult().Snapshot())

	assert.Equal(t, "run-1", rep.RunID)
	require.NotNil(t, rep.FinishedAt)
	require.Len(t, rep.Created, 1)
	assert.Equal(t, "a", rep.Created[0].SourceID)
	assert.Equal(t, 1.5, rep.Created[0].Duration)
	require.Len(t, rep.Updated, 1)
	assert.Equal(t, []string{"matched by title"}, rep.Updated[0].Warnings)
	require.Len(t, rep.Skipped, 1)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "boom", rep.Failed[0].Error)
	assert.Equal(t, string(models.StateUploadingMedia), rep.Failed[0].FailedIn)
	assert.Equal(t, 1, rep.Summary.Created)
	assert.Equal(t, 1, rep.Summary.Errors)
}

func TestBuildReport_EmptyGroupsAreArrays(t *testing.T) {
	res := models.NewRunResult("empty", true)
	res.Finish()
	data, err := json.Marshal(BuildReport(res.Snapshot()))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, k := range []string{"created", "updated", "skipped", "failed"} {
		assert.Equal(t, []interface{}{}, doc[k], k)
	}
	assert.Equal(t, true, doc["dry_run"])
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "migration_results.json")
	rep := BuildReport(sampleResult().Snapshot())
	require.NoError(t, WriteReport(path, rep))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rep.RunID, got.RunID)
	assert.Len(t, got.Created, 1)
	assert.Len(t, got.Failed, 1)
	assert.Equal(t, rep.Summary, got.Summary)
}
