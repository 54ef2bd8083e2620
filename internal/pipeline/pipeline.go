package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urbanverde/paris-green-etl/internal/domain"
	"github.com/urbanverde/paris-green-etl/internal/observability"
)

// Fetcher produces one feed's complete raw batch.
type Fetcher interface {
	Fetch(ctx context.Context, feed domain.FeedID) (domain.FetchResult, error)
}

// Loader persists a run's aggregate rows atomically.
type Loader interface {
	LoadRun(ctx context.Context, runID string, rows []domain.DistrictAggregate) error
}

// FetchOutcome is one feed's fetch result or its failure. A failed feed
// carries a nil batch and the error; the run continues without it.
type FetchOutcome struct {
	Result domain.FetchResult
	Err    error
}

// FeedReport summarizes one feed's processing within a run.
type FeedReport struct {
	Feed       domain.FeedID          `json:"feed"`
	Strategy   domain.FetchStrategy   `json:"strategy,omitempty"`
	Fetched    int                    `json:"fetched"`
	Cleaned    int                    `json:"cleaned"`
	Rejections []domain.Rejection     `json:"rejections,omitempty"`
	FetchError string                 `json:"fetch_error,omitempty"`
}

// Failed reports whether the feed produced no usable batch at all.
func (r *FeedReport) Failed() bool { return r.FetchError != "" }

// RunSummary is the structured result of one pipeline run: per-feed status,
// aggregate counts, and the cross-district correlation. Fetch, validation
// and resolution failures surface here as warnings; only a persistence
// failure fails the run itself.
type RunSummary struct {
	RunID         string                             `json:"run_id"`
	Feeds         map[domain.FeedID]*FeedReport      `json:"feeds"`
	AggregateRows int                                `json:"aggregate_rows"`
	NoDataRows    int                                `json:"no_data_rows"`

	// Pearson correlation between tree density and mean NO₂ across
	// districts; Defined is false when fewer than two districts have both
	// metrics or variance vanishes.
	Correlation        float64 `json:"correlation"`
	CorrelationPairs   int     `json:"correlation_pairs"`
	CorrelationDefined bool    `json:"correlation_defined"`
}

// Warnings counts recovered per-feed and per-record failures.
func (s *RunSummary) Warnings() int {
	n := 0
	for _, report := range s.Feeds {
		if report.Failed() {
			n++
		}
		n += len(report.Rejections)
	}
	return n
}

// Pipeline orchestrates fetch → clean → aggregate → load for one run.
// It holds no cross-run state; everything transient dies with the run.
type Pipeline struct {
	fetcher    Fetcher
	cleaner    *domain.Cleaner
	aggregator *domain.Aggregator
	loader     Loader
	feeds      []domain.FeedID
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// New assembles a pipeline over the given feeds.
func New(fetcher Fetcher, cleaner *domain.Cleaner, aggregator *domain.Aggregator, loader Loader,
	feeds []domain.FeedID, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		cleaner:    cleaner,
		aggregator: aggregator,
		loader:     loader,
		feeds:      feeds,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once the pipeline has completed a run.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Fetch pulls every feed concurrently. Feeds are independent network pulls
// with no shared mutable state; each feed's batch is complete and ordered
// before Fetch returns, so cleaning never sees a partial sequence. A feed
// failure is recorded in its outcome and does not abort the others.
func (p *Pipeline) Fetch(ctx context.Context) map[domain.FeedID]FetchOutcome {
	start := time.Now()
	outcomes := make(map[domain.FeedID]FetchOutcome, len(p.feeds))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, feed := range p.feeds {
		feed := feed
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.fetcher.Fetch(ctx, feed)
			if err != nil {
				p.logger.Error("feed fetch failed", "feed", feed, "error", err)
			} else {
				p.logger.Info("feed fetched",
					"feed", feed, "strategy", result.Strategy, "records", len(result.Records))
			}
			mu.Lock()
			outcomes[feed] = FetchOutcome{Result: result, Err: err}
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	return outcomes
}

// Process cleans every fetched batch and computes the run's aggregates.
// It is a pure in-memory transform over the outcomes; feeds that failed to
// fetch are reported and skipped.
func (p *Pipeline) Process(runID string, outcomes map[domain.FeedID]FetchOutcome) ([]domain.DistrictAggregate, *RunSummary) {
	start := time.Now()
	summary := &RunSummary{
		RunID: runID,
		Feeds: make(map[domain.FeedID]*FeedReport, len(outcomes)),
	}

	cleaned := make(map[domain.FeedID][]domain.CleanRecord, len(outcomes))
	for _, feed := range p.feeds {
		outcome, ok := outcomes[feed]
		if !ok {
			continue
		}
		report := &FeedReport{Feed: feed}
		summary.Feeds[feed] = report

		if outcome.Err != nil {
			report.FetchError = outcome.Err.Error()
			continue
		}
		report.Strategy = outcome.Result.Strategy
		report.Fetched = len(outcome.Result.Records)

		records, rejections := p.cleaner.Clean(feed, outcome.Result.Records)
		report.Cleaned = len(records)
		report.Rejections = rejections
		cleaned[feed] = records

		p.metrics.RecordsCleaned.WithLabelValues(string(feed)).Add(float64(len(records)))
		for _, rej := range rejections {
			p.metrics.RecordsRejected.WithLabelValues(string(feed), string(rej.Reason)).Inc()
		}
	}

	rows := p.aggregator.Aggregate(runID, cleaned)
	summary.AggregateRows = len(rows)
	for _, row := range rows {
		if row.NoData {
			summary.NoDataRows++
		}
	}
	summary.Correlation, summary.CorrelationPairs, summary.CorrelationDefined =
		domain.TreeDensityNO2Correlation(rows)

	p.metrics.AggregateRows.Add(float64(summary.AggregateRows))
	p.metrics.NoDataRows.Add(float64(summary.NoDataRows))
	p.metrics.StageDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())

	if summary.CorrelationDefined {
		p.logger.Info("tree density vs NO2 correlation",
			"r", summary.Correlation, "districts", summary.CorrelationPairs)
	}
	return rows, summary
}

// Load persists the run's rows. This is the only stage with side effects
// beyond the process; its failure is the run's only fatal condition and is
// reported with the run identifier for retry.
func (p *Pipeline) Load(ctx context.Context, runID string, rows []domain.DistrictAggregate) error {
	start := time.Now()
	if err := p.loader.LoadRun(ctx, runID, rows); err != nil {
		p.metrics.LoadFailures.Inc()
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	p.metrics.RowsLoaded.Add(float64(len(rows)))
	p.metrics.StageDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	return nil
}

// Run executes the full fetch → process → load composition. Cancellation
// between stages simply discards in-memory state; once Load has begun, its
// transactional contract keeps readers consistent regardless.
func (p *Pipeline) Run(ctx context.Context, runID string) (*RunSummary, error) {
	p.metrics.PipelineActive.Set(1)
	defer p.metrics.PipelineActive.Set(0)

	p.logger.Info("run started", "run_id", runID, "feeds", len(p.feeds))

	outcomes := p.Fetch(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, summary := p.Process(runID, outcomes)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if err := p.Load(ctx, runID, rows); err != nil {
		return summary, err
	}

	p.ready.Store(true)
	p.logger.Info("run finished",
		"run_id", runID,
		"aggregate_rows", summary.AggregateRows,
		"no_data_rows", summary.NoDataRows,
		"warnings", summary.Warnings(),
	)
	return summary, nil
}
