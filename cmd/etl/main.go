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

	"github.com/google/uuid"

	"github.com/urbanverde/paris-green-etl/internal/adapter/httpserver"
	"github.com/urbanverde/paris-green-etl/internal/adapter/opendata"
	"github.com/urbanverde/paris-green-etl/internal/adapter/postgres"
	"github.com/urbanverde/paris-green-etl/internal/config"
	"github.com/urbanverde/paris-green-etl/internal/domain"
	"github.com/urbanverde/paris-green-etl/internal/observability"
	"github.com/urbanverde/paris-green-etl/internal/pipeline"
	"github.com/urbanverde/paris-green-etl/internal/snapshot"
)

func main() {
	stage := flag.String("stage", "run", "pipeline stage: fetch, process, load, or run (full composition)")
	runID := flag.String("run", "", "run identifier (default: RUN_ID env or a generated one)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics, *stage, resolveRunID(*runID, cfg)); err != nil {
		logger.Error("etl failed", "stage", *stage, "error", err)
		os.Exit(1)
	}
}

// resolveRunID picks the idempotency key for this invocation: the flag, then
// the environment, then a fresh identifier.
func resolveRunID(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.RunID != "" {
		return cfg.RunID
	}
	return "run-" + uuid.NewString()
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, stage, runID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, err := snapshot.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}

	client := opendata.NewClient(cfg.OpenDataBaseURL, cfg.RequestTimeout, cfg.PageSize, cfg.RatePerSecond, logger)
	airparif := opendata.NewArcGISClient(cfg.AirparifURL, cfg.RequestTimeout, logger)
	adapter := opendata.NewAdapter(client, airparif, metrics, logger)

	boundaries, err := loadBoundaries(ctx, cfg, adapter, logger)
	if err != nil {
		return err
	}

	loader, closeLoader, err := newLoader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLoader()

	p := pipeline.New(
		adapter,
		domain.NewCleaner(boundaries, logger),
		domain.NewAggregator(boundaries),
		loader,
		domain.Feeds,
		logger,
		metrics,
	)

	srv := httpserver.NewServer(httpserver.Config{
		Addr:         cfg.HTTPAddr,
		Timeout:      cfg.HTTPTimeout,
		ReadyTimeout: cfg.ReadyTimeout,
	}, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}()

	switch stage {
	case "fetch":
		return stageFetch(ctx, p, snapshots)
	case "process":
		return stageProcess(p, snapshots, runID, logger)
	case "load":
		return stageLoad(ctx, p, snapshots, runID)
	case "run":
		return stageRun(ctx, p, snapshots, runID, logger)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// stageFetch pulls every feed and snapshots the successful batches.
// Failed feeds are reported per feed; the stage itself succeeds as long as
// snapshotting works.
func stageFetch(ctx context.Context, p *pipeline.Pipeline, snapshots *snapshot.Store) error {
	outcomes := p.Fetch(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	return snapshotOutcomes(snapshots, outcomes)
}

// snapshotOutcomes persists successful fetches and discards the snapshot of
// any feed that failed, so stale data from an earlier invocation cannot leak
// into a later process stage.
func snapshotOutcomes(snapshots *snapshot.Store, outcomes map[domain.FeedID]pipeline.FetchOutcome) error {
	for feed, outcome := range outcomes {
		if outcome.Err != nil {
			if err := snapshots.RemoveRaw(feed); err != nil {
				return fmt.Errorf("discard snapshot for %s: %w", feed, err)
			}
			continue
		}
		if err := snapshots.SaveRaw(outcome.Result); err != nil {
			return fmt.Errorf("snapshot feed %s: %w", feed, err)
		}
	}
	return nil
}

// stageProcess cleans and aggregates from the raw snapshots. A feed without
// a snapshot is reported as failed and skipped, mirroring a fetch failure.
func stageProcess(p *pipeline.Pipeline, snapshots *snapshot.Store, runID string, logger *slog.Logger) error {
	outcomes := make(map[domain.FeedID]pipeline.FetchOutcome, len(domain.Feeds))
	for _, feed := range domain.Feeds {
		result, err := snapshots.LoadRaw(feed)
		outcomes[feed] = pipeline.FetchOutcome{Result: result, Err: err}
	}

	rows, summary := p.Process(runID, outcomes)
	if err := snapshots.SaveAggregates(runID, rows); err != nil {
		return err
	}
	logSummary(logger, summary)
	return nil
}

// stageLoad persists a previously processed aggregate snapshot.
func stageLoad(ctx context.Context, p *pipeline.Pipeline, snapshots *snapshot.Store, runID string) error {
	rows, err := snapshots.LoadAggregates(runID)
	if err != nil {
		return err
	}
	return p.Load(ctx, runID, rows)
}

// stageRun is the full composition, keeping the stage artifacts on disk as
// it goes so a failed load can be retried with -stage load.
func stageRun(ctx context.Context, p *pipeline.Pipeline, snapshots *snapshot.Store, runID string, logger *slog.Logger) error {
	outcomes := p.Fetch(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshotOutcomes(snapshots, outcomes); err != nil {
		return err
	}

	rows, summary := p.Process(runID, outcomes)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshots.SaveAggregates(runID, rows); err != nil {
		return err
	}
	if err := p.Load(ctx, runID, rows); err != nil {
		return err
	}
	logSummary(logger, summary)
	return nil
}

// loadBoundaries reads the district reference file, bootstrapping it from
// the arrondissements dataset when the file is not there yet.
func loadBoundaries(ctx context.Context, cfg *config.Config, adapter *opendata.Adapter, logger *slog.Logger) (*domain.BoundarySet, error) {
	boundaries, err := domain.LoadBoundaries(cfg.BoundariesPath)
	if err == nil {
		logger.Info("boundaries loaded", "path", cfg.BoundariesPath, "districts", boundaries.Len())
		return boundaries, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Info("boundary file missing, fetching arrondissements", "path", cfg.BoundariesPath)
	boundaries, err = adapter.FetchBoundaries(ctx)
	if err != nil {
		return nil, err
	}
	if err := boundaries.WriteFile(cfg.BoundariesPath); err != nil {
		logger.Warn("could not save boundary reference", "path", cfg.BoundariesPath, "error", err)
	}
	logger.Info("boundaries fetched", "districts", boundaries.Len())
	return boundaries, nil
}

// newLoader returns the Postgres store, or a dry-run loader that only logs
// when DRY_RUN is set (or no store is configured and writing is not asked
// for).
func newLoader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Loader, func(), error) {
	if cfg.DryRun || cfg.DatabaseURL == "" {
		if !cfg.DryRun {
			logger.Warn("DATABASE_URL not set, running in dry-run mode")
		}
		return dryRunLoader{logger: logger}, func() {}, nil
	}
	store, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

type dryRunLoader struct {
	logger *slog.Logger
}

func (l dryRunLoader) LoadRun(_ context.Context, runID string, rows []domain.DistrictAggregate) error {
	l.logger.Info("dry-run: skipping load", "run_id", runID, "rows", len(rows))
	return nil
}

func logSummary(logger *slog.Logger, summary *pipeline.RunSummary) {
	for _, feed := range domain.Feeds {
		report, ok := summary.Feeds[feed]
		if !ok {
			continue
		}
		if report.Failed() {
			logger.Warn("feed failed", "feed", feed, "error", report.FetchError)
			continue
		}
		logger.Info("feed processed",
			"feed", feed,
			"strategy", report.Strategy,
			"fetched", report.Fetched,
			"cleaned", report.Cleaned,
			"rejected", len(report.Rejections),
		)
	}
	logger.Info("run summary",
		"run_id", summary.RunID,
		"aggregate_rows", summary.AggregateRows,
		"no_data_rows", summary.NoDataRows,
		"warnings", summary.Warnings(),
	)
}
