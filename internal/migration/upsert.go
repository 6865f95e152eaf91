package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/rflorenc/content-migration-workbench/internal/ledger"
	"github.com/rflorenc/content-migration-workbench/internal/mapping"
	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
	"github.com/rflorenc/content-migration-workbench/internal/resilience"
)

// Existence lookups, in the order they are tried.
const (
	MatchExternalID = "external_id"
	MatchSlug       = "slug"
	MatchTitle      = "title"
)

// UpsertOptions configures an Upserter.
type UpsertOptions struct {
	// ExternalIDMeta is the meta key holding the source external id.
	ExternalIDMeta string
	TitleMatch     bool
	// Retry governs creates. The platform sends each create once, so
	// transient failures are retried here after checking that the failed
	// attempt was not stored.
	Retry resilience.Policy
	// DryRun skips the ledger write. The platform is expected to be a
	// dry-run wrapper already.
	DryRun bool
	Clock  clock.Clock
	Logger *slog.Logger
}

// UpsertResult is the outcome of one create-or-update.
type UpsertResult struct {
	Action   models.Action
	RemoteID int
	// MatchedBy names the lookup that found the existing entity, or ""
	// for a create.
	MatchedBy string
	Slug      string
	Warnings  []string
}

// Upserter decides whether a payload's entity exists remotely and
// creates or updates it, recording the result in the ledger.
type Upserter struct {
	platform platform.Platform
	ledger   ledger.Store
	opts     UpsertOptions
	logger   *slog.Logger
}

// NewUpserter creates an Upserter.
func NewUpserter(p platform.Platform, l ledger.Store, opts UpsertOptions) *Upserter {
	if opts.ExternalIDMeta == "" {
		opts.ExternalIDMeta = "_external_id"
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Upserter{platform: p, ledger: l, opts: opts, logger: logger.With("component", "upsert")}
}

// FindExisting runs the existence lookups in priority order and returns
// the first match with the name of the lookup that found it.
func (u *Upserter) FindExisting(ctx context.Context, p *mapping.Payload) (models.Resource, string, error) {
	if p.ExternalID != "" {
		r, err := u.platform.FindByMeta(ctx, p.Collection, u.opts.ExternalIDMeta, p.ExternalID)
		if err != nil {
			return nil, "", fmt.Errorf("lookup by external id: %w", err)
		}
		if r != nil {
			return r, MatchExternalID, nil
		}
	}
	if p.Slug != "" {
		r, err := u.platform.FindBySlug(ctx, p.Collection, p.Slug)
		if err != nil {
			return nil, "", fmt.Errorf("lookup by slug: %w", err)
		}
		if r != nil {
			return r, MatchSlug, nil
		}
	}
	if u.opts.TitleMatch && p.Title != "" {
		r, err := u.platform.FindByTitle(ctx, p.Collection, p.Title)
		if err != nil {
			return nil, "", fmt.Errorf("lookup by title: %w", err)
		}
		if r != nil {
			return r, MatchTitle, nil
		}
	}
	return nil, "", nil
}

// Upsert creates or sparsely updates the payload's entity. On success the
// ledger entry is durable before Upsert returns. A ledger failure is
// returned wrapped in ledger.ErrLedgerWrite.
func (u *Upserter) Upsert(ctx context.Context, p *mapping.Payload, contentHash string) (*UpsertResult, error) {
	existing, matchedBy, err := u.FindExisting(ctx, p)
	if err != nil {
		return nil, err
	}
	log := u.logger.With("source_id", p.SourceID, "collection", p.Collection)
	body := p.Body()
	res := &UpsertResult{Slug: p.Slug}

	if existing != nil {
		if matchedBy == MatchTitle {
			msg := fmt.Sprintf("matched existing %s %d by title %q", p.Collection, existing.ID(), p.Title)
			log.Warn("existing entity matched by title", "remote_id", existing.ID(), "title", p.Title)
			res.Warnings = append(res.Warnings, msg)
		}
		updated, err := u.platform.UpdateEntity(ctx, p.Collection, existing.ID(), body)
		if err != nil {
			return nil, fmt.Errorf("update %s %d: %w", p.Collection, existing.ID(), err)
		}
		res.Action = models.ActionUpdated
		res.RemoteID = existing.ID()
		res.MatchedBy = matchedBy
		if s := updated.Slug(); s != "" {
			res.Slug = s
		}
	} else {
		created, err := u.create(ctx, p, body, log)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", p.Collection, err)
		}
		res.Action = models.ActionCreated
		res.RemoteID = created.ID()
		if s := created.Slug(); s != "" && s != p.Slug {
			log.Warn("platform changed the slug", "requested", p.Slug, "assigned", s)
			res.Warnings = append(res.Warnings, fmt.Sprintf("slug %q was stored as %q", p.Slug, s))
			res.Slug = s
		}
	}

	if u.opts.DryRun {
		return res, nil
	}
	entry := ledger.Entry{
		RemoteID:    res.RemoteID,
		ContentHash: contentHash,
		Action:      res.Action,
		EntityType:  p.Type,
		Slug:        res.Slug,
		Timestamp:   u.opts.Clock.Now().UTC(),
	}
	if err := u.ledger.Put(ctx, p.SourceID, entry); err != nil {
		return res, err
	}
	return res, nil
}

// create sends the create under the retry policy. Before every retry the
// existence lookups run again: a create whose response was lost may have
// been stored, and sending it again would duplicate the entity.
func (u *Upserter) create(ctx context.Context, p *mapping.Payload, body map[string]interface{}, log *slog.Logger) (models.Resource, error) {
	b := resilience.NewBackoff(u.opts.Retry)
	for {
		created, err := u.platform.CreateEntity(ctx, p.Collection, body)
		if err == nil {
			return created, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		retry, delay := b.Record(err)
		if !retry {
			if b.LastClass() == resilience.Transient {
				return nil, &resilience.ExhaustedError{Attempts: b.Attempts(), Err: err}
			}
			return nil, err
		}
		log.Warn("create failed, retrying", "attempt", b.Attempts(), "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-u.opts.Clock.After(delay):
		}

		stored, matchedBy, err := u.FindExisting(ctx, p)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			log.Warn("failed create was stored", "remote_id", stored.ID(), "matched_by", matchedBy)
			return stored, nil
		}
	}
}
