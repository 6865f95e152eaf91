package migration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rflorenc/content-migration-workbench/internal/ledger"
	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// process takes one record through resolving, media and upsert. The
// outcome is always returned; the error is non-nil only for a failure
// that must abort the whole run.
func (r *run) process(ctx context.Context, rec *models.Record) (outcome models.Outcome, fatal error) {
	start := time.Now()
	state := models.NewRecordState(rec.SourceID)
	log := r.logger.With("source_id", rec.SourceID)
	outcome = models.Outcome{SourceID: rec.SourceID, Type: rec.Type, DryRun: r.dryRun}

	fail := func(err error) {
		outcome.Action = models.ActionError
		outcome.Error = err.Error()
		outcome.FailedIn = state.Current()
		_ = state.Advance(models.StateError)
		log.Error("record failed", "state", outcome.FailedIn, "error", err)
	}
	defer func() {
		if p := recover(); p != nil {
			fail(fmt.Errorf("panic: %v", p))
			log.Debug("panic stack", "stack", string(debug.Stack()))
		}
		outcome.Duration = time.Since(start)
		outcome.FinishedAt = time.Now()
	}()

	hash := rec.ContentHash()
	if r.opts.SkipUnchanged {
		entry, found, err := r.ledger.Get(ctx, rec.SourceID)
		if err != nil {
			log.Warn("ledger lookup failed", "error", err)
		} else if ledger.Unchanged(entry, found, hash) {
			_ = state.Advance(models.StateDone)
			outcome.Action = models.ActionSkipped
			outcome.RemoteID = entry.RemoteID
			outcome.Slug = entry.Slug
			log.Info("unchanged since last run", "remote_id", entry.RemoteID)
			return outcome, nil
		}
	}

	if err := state.Advance(models.StateResolving); err != nil {
		fail(err)
		return outcome, nil
	}
	payload, err := r.mapping.Prepare(rec)
	if err != nil {
		fail(err)
		return outcome, nil
	}
	outcome.Type = payload.Type
	outcome.Slug = payload.Slug
	resolution, err := r.resolver.ResolveRefs(ctx, payload.Refs)
	if err != nil {
		fail(err)
		return outcome, nil
	}
	applyResolution(payload, resolution)

	if err := state.Advance(models.StateUploadingMedia); err != nil {
		fail(err)
		return outcome, nil
	}
	rewritten, err := r.rewriter.Rewrite(ctx, mediaDocument(payload))
	if err != nil {
		fail(err)
		return outcome, nil
	}
	applyMedia(payload, rewritten)

	if err := state.Advance(models.StateUpserting); err != nil {
		fail(err)
		return outcome, nil
	}
	res, err := r.upserter.Upsert(ctx, payload, hash)
	if err != nil {
		fail(err)
		if errors.Is(err, ledger.ErrLedgerWrite) {
			return outcome, err
		}
		return outcome, nil
	}

	_ = state.Advance(models.StateDone)
	outcome.Action = res.Action
	outcome.RemoteID = res.RemoteID
	outcome.Slug = res.Slug
	outcome.Warnings = mergeWarnings(resolution.Warnings, rewritten.Warnings, res.Warnings)
	if r.dryRun {
		outcome.Payload = payload.Body()
	}
	log.Info("record migrated", "action", res.Action, "remote_id", res.RemoteID,
		"matched_by", res.MatchedBy, "uploads", rewritten.Uploaded)
	return outcome, nil
}
