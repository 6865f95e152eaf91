package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rflorenc/content-migration-workbench/internal/api"
	"github.com/rflorenc/content-migration-workbench/internal/config"
	"github.com/rflorenc/content-migration-workbench/internal/models"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 2
	}
	if cfg.Version {
		fmt.Printf("migrator %s (commit: %s, built: %s)\n", version, commit, date)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// SIGINT/SIGTERM stop dispatch; in-flight records finish and state is
	// flushed before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Serve {
		return serve(ctx, cfg, level, logger)
	}

	fmt.Printf("Content migrator %s: %s -> %s\n", version, cfg.Records, cfg.TargetModel().BaseURL())
	if cfg.DryRun {
		fmt.Println("Dry run: nothing will be written to the target")
	}
	result := models.NewRunResult(newRunID(), cfg.DryRun)
	runErr := migrate(ctx, cfg, cfg.DryRun, logger, result)
	printSummary(result)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", runErr)
		return 1
	}
	if result.Summary().Errors > 0 {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, level slog.Level, logger *slog.Logger) int {
	server := &api.Server{
		Jobs:     models.NewJobStore(),
		LogLevel: level,
		Run: func(ctx context.Context, dryRun bool, logger *slog.Logger, result *models.RunResult) error {
			return migrate(ctx, cfg, dryRun, logger, result)
		},
	}
	srv := &http.Server{Addr: cfg.Listen, Handler: api.NewRouter(server)}

	fmt.Printf("Content migrator %s status server starting on %s\n", version, cfg.Listen)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		logger.Error("status server stopped", "error", err)
		return 1
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down status server", "error", err)
		return 1
	}
	return 0
}

func printSummary(result *models.RunResult) {
	s := result.Summary()
	fmt.Printf("\nSummary: %d created, %d updated, %d skipped, %d errors (of %d records)\n",
		s.Created, s.Updated, s.Skipped, s.Errors, s.Total)
	if snap := result.Snapshot(); snap.Undispatched > 0 {
		fmt.Printf("  %d records were not started\n", snap.Undispatched)
	}
	for _, o := range result.Errors() {
		fmt.Printf("  ERROR %s (%s): %s\n", o.SourceID, o.FailedIn, o.Error)
	}
	if !result.DryRun {
		return
	}
	for _, o := range result.Outcomes() {
		if o.Payload == nil {
			continue
		}
		fmt.Printf("\n%s %s -> %s (remote id %d)\n", o.Action, o.SourceID, o.Slug, o.RemoteID)
		printPayload(o.Payload)
	}
}
