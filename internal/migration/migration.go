// Package migration runs records through the per-record pipeline
// (resolve references, rewrite media, upsert) under bounded concurrency
// and collects the outcomes of a run.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rflorenc/content-migration-workbench/internal/ledger"
	"github.com/rflorenc/content-migration-workbench/internal/mapping"
	"github.com/rflorenc/content-migration-workbench/internal/media"
	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
	"github.com/rflorenc/content-migration-workbench/internal/resilience"
	"github.com/rflorenc/content-migration-workbench/internal/resolver"
)

// DefaultConcurrency is the number of pipelines run in parallel when
// Options.Concurrency is not set.
const DefaultConcurrency = 4

// ErrDuplicateSource is the outcome error of a record whose source
// identity was already seen in the run.
var ErrDuplicateSource = errors.New("duplicate source identity")

// Options configures an Engine.
type Options struct {
	Concurrency int
	// MinCallDelay spaces consecutive outbound calls of one pipeline.
	MinCallDelay time.Duration
	// DryRun computes every outcome without any mutating call.
	DryRun bool
	// TitleMatch enables the exact-title existence lookup.
	TitleMatch bool
	// SkipUnchanged skips records whose content hash matches the ledger.
	SkipUnchanged bool
	// Retry is the policy for entity creates, which the platform client
	// does not retry by itself.
	Retry    resilience.Policy
	Resolver resolver.Options
	Media    media.Options
	Logger   *slog.Logger
}

// Engine migrates batches of records into one target platform.
type Engine struct {
	platform platform.Platform
	mapping  *mapping.Config
	ledger   ledger.Store
	cache    *media.Cache
	opts     Options
	logger   *slog.Logger
}

// New creates an Engine. p must be the live platform; in dry-run mode the
// engine wraps it itself.
func New(p platform.Platform, m *mapping.Config, l ledger.Store, c *media.Cache, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Resolver.Logger = logger
	opts.Media.Logger = logger
	return &Engine{
		platform: p,
		mapping:  m,
		ledger:   l,
		cache:    c,
		opts:     opts,
		logger:   logger.With("component", "migration"),
	}
}

// Run migrates records and returns the run result. The error is non-nil
// only when the run was aborted as a whole (ledger unwritable) or
// cancelled; per-record failures are outcomes.
func (e *Engine) Run(ctx context.Context, records []*models.Record) (*models.RunResult, error) {
	result := models.NewRunResult(uuid.New().String(), e.opts.DryRun)
	err := e.Execute(ctx, result, records)
	return result, err
}

// run holds the state scoped to one Execute call. The resolver cache
// lives here so that no two runs share resolutions.
type run struct {
	dryRun   bool
	mapping  *mapping.Config
	ledger   ledger.Store
	resolver *resolver.Resolver
	rewriter *media.Rewriter
	upserter *Upserter
	opts     Options
	result   *models.RunResult
	logger   *slog.Logger
}

// Execute runs records into result, which callers may observe while the
// run is in progress.
func (e *Engine) Execute(ctx context.Context, result *models.RunResult, records []*models.Record) error {
	p := e.platform
	cache := e.cache
	var dry *platform.DryRunPlatform
	if e.opts.DryRun {
		dry = platform.DryRun(p)
		p = dry
		cache = cache.ReadOnlyCopy()
	}
	logger := e.logger.With("run", result.ID)

	r := &run{
		dryRun:   e.opts.DryRun,
		mapping:  e.mapping,
		ledger:   e.ledger,
		resolver: resolver.New(p, e.opts.Resolver),
		rewriter: media.NewRewriter(p, cache, e.opts.Media),
		upserter: NewUpserter(p, e.ledger, UpsertOptions{
			ExternalIDMeta: e.mapping.ExternalIDMeta,
			TitleMatch:     e.opts.TitleMatch,
			Retry:          e.opts.Retry,
			DryRun:         e.opts.DryRun,
			Logger:         logger,
		}),
		opts:   e.opts,
		result: result,
		logger: logger,
	}

	mode := "live"
	if e.opts.DryRun {
		mode = "dry-run"
	}
	logger.Info("starting run", "mode", mode, "records", len(records), "concurrency", e.opts.Concurrency)

	runErr := r.dispatch(ctx, records)

	// Flush even when the run was aborted or cancelled.
	if !e.opts.DryRun {
		if err := e.ledger.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Error("flushing ledger", "error", err)
			runErr = errors.Join(runErr, err)
		}
		if err := e.cache.Flush(); err != nil {
			logger.Error("flushing upload cache", "error", err)
			runErr = errors.Join(runErr, err)
		}
	}
	result.Finish()

	s := result.Summary()
	logger.Info("run finished",
		"created", s.Created, "updated", s.Updated, "skipped", s.Skipped, "errors", s.Errors,
		"terms_created", r.resolver.TermsCreated(), "users_created", r.resolver.UsersCreated())
	if dry != nil {
		logger.Info("dry run intercepted mutating calls", "calls", dry.Intercepted())
	}
	return runErr
}

// dispatch feeds records to a fixed pool of workers. Cancelling ctx stops
// dispatch; records already picked up finish their pipeline.
func (r *run) dispatch(ctx context.Context, records []*models.Record) error {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan *models.Record)

	for i := 0; i < r.opts.Concurrency; i++ {
		pacer := resilience.NewPacer(r.opts.MinCallDelay)
		g.Go(func() error {
			for rec := range queue {
				// In-flight work is not interrupted by cancellation; the
				// per-call timeout bounds it instead.
				pctx := resilience.WithPacer(context.WithoutCancel(gctx), pacer)
				outcome, err := r.process(pctx, rec)
				r.result.Append(outcome)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	seen := make(map[string]bool, len(records))
	dispatched := 0
loop:
	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		if seen[rec.SourceID] {
			r.logger.Error("duplicate source identity", "source_id", rec.SourceID)
			r.result.Append(models.Outcome{
				SourceID:   rec.SourceID,
				Type:       rec.Type,
				Action:     models.ActionError,
				Error:      fmt.Sprintf("%v: %s", ErrDuplicateSource, rec.SourceID),
				FailedIn:   models.StatePending,
				DryRun:     r.dryRun,
				FinishedAt: time.Now(),
			})
			dispatched++
			continue
		}
		seen[rec.SourceID] = true
		select {
		case <-gctx.Done():
			break loop
		case queue <- rec:
			dispatched++
		}
	}
	close(queue)

	err := g.Wait()
	if n := len(records) - dispatched; n > 0 {
		r.result.AddUndispatched(n)
		r.logger.Warn("records not dispatched", "count", n)
	}
	if err != nil {
		r.result.Abort(err.Error())
		r.logger.Error("run aborted", "error", err)
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
