package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rflorenc/content-migration-workbench/internal/config"
	"github.com/rflorenc/content-migration-workbench/internal/ledger"
	"github.com/rflorenc/content-migration-workbench/internal/mapping"
	"github.com/rflorenc/content-migration-workbench/internal/media"
	"github.com/rflorenc/content-migration-workbench/internal/migration"
	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
	"github.com/rflorenc/content-migration-workbench/internal/resolver"
	"github.com/rflorenc/content-migration-workbench/internal/source"
)

func newRunID() string { return uuid.New().String() }

// migrate performs one run into result: connection test, prefix
// discovery, loading, the run itself and the report.
func migrate(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger, result *models.RunResult) error {
	target := cfg.TargetModel()
	client := platform.NewClient(target, platform.ClientOptions{
		Policy:  cfg.Policy(),
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})

	if _, err := migration.Preflight(ctx, platform.NewRESTPlatform(client, target), logger); err != nil {
		return err
	}
	platform.Discover(ctx, client, target, logger)
	p := platform.NewRESTPlatform(client, target)

	m := mapping.Default()
	if cfg.Mapping != "" {
		var err error
		if m, err = mapping.LoadFile(cfg.Mapping); err != nil {
			return err
		}
	}

	records, err := loadRecords(ctx, cfg.Records)
	if err != nil {
		return err
	}
	if dups := source.Duplicates(records); len(dups) > 0 {
		logger.Warn("duplicate source identities; later records will fail", "source_ids", dups)
	}

	store, err := openLedger(cfg, dryRun)
	if err != nil {
		return err
	}
	defer store.Close()
	cache, err := media.LoadCache(cfg.CachePath(), dryRun)
	if err != nil {
		return err
	}

	engine := migration.New(p, m, store, cache, migration.Options{
		Concurrency:   cfg.Concurrency,
		MinCallDelay:  cfg.MinCallDelay,
		DryRun:        dryRun,
		TitleMatch:    cfg.TitleMatch,
		SkipUnchanged: cfg.SkipUnchanged,
		Retry:         cfg.Policy(),
		Resolver: resolver.Options{
			CreateAuthors: cfg.CreateAuthors,
			DefaultAuthor: cfg.DefaultAuthor,
		},
		Media:  cfg.MediaOptions(),
		Logger: logger,
	})
	runErr := engine.Execute(ctx, result, records)

	if err := migration.WriteReport(cfg.Report, migration.BuildReport(result.Snapshot())); err != nil {
		logger.Error("writing report", "path", cfg.Report, "error", err)
		runErr = errors.Join(runErr, err)
	} else {
		logger.Info("report written", "path", cfg.Report)
	}
	return runErr
}

func loadRecords(ctx context.Context, path string) ([]*models.Record, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	base := path
	if !info.IsDir() {
		base = filepath.Dir(path)
	}
	return source.NewLoader(base).Load(ctx, path)
}

// openLedger opens the configured ledger. A dry run never creates one: a
// ledger that does not exist yet is replaced by an empty in-memory one.
func openLedger(cfg *config.Config, dryRun bool) (ledger.Store, error) {
	path := cfg.LedgerPath()
	if dryRun {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return ledger.Open(ledger.BackendJSON, "")
		}
		return ledger.Open(cfg.Ledger, path)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return ledger.Open(cfg.Ledger, path)
}

func printPayload(payload map[string]interface{}) {
	data, err := json.MarshalIndent(payload, "  ", "  ")
	if err != nil {
		fmt.Printf("  (unprintable payload: %v)\n", err)
		return
	}
	fmt.Printf("  %s\n", data)
}
