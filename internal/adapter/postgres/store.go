package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbanverde/paris-green-etl/internal/domain"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS district_aggregates (
    district_code TEXT        NOT NULL,
    dataset       TEXT        NOT NULL,
    metric        TEXT        NOT NULL,
    value         DOUBLE PRECISION,
    sample_count  INTEGER     NOT NULL DEFAULT 0,
    no_data       BOOLEAN     NOT NULL DEFAULT FALSE,
    run_id        TEXT        NOT NULL,
    loaded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (district_code, dataset, metric, run_id)
)`

// Store writes district aggregates into Postgres. It is the only component
// that mutates persisted aggregate state; the serving layer reads the
// district_aggregates table and nothing else.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	sb     sq.StatementBuilderType
}

// New connects to the store and ensures the aggregate table exists.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the load stage")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	s := &Store{
		pool:   pool,
		logger: logger,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// LoadRun replaces the run's aggregate rows in a single transaction: an
// advisory transaction lock on the run identifier serializes concurrent
// loads of the same run, then the run's previous rows are deleted and the
// new set inserted. Readers either see the old run state or the complete new
// one, never a mix; a retried run with the same identifier converges to the
// same final state.
func (s *Store) LoadRun(ctx context.Context, runID string, rows []domain.DistrictAggregate) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin load transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", runID); err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}

	delSQL, delArgs, err := s.sb.Delete("district_aggregates").
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.Exec(ctx, delSQL, delArgs...); err != nil {
		return fmt.Errorf("clear previous run rows: %w", err)
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, row := range rows {
			insSQL, insArgs, err := s.insertRow(row)
			if err != nil {
				return fmt.Errorf("build insert: %w", err)
			}
			batch.Queue(insSQL, insArgs...)
		}
		results := tx.SendBatch(ctx, batch)
		for range rows {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert aggregate rows: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close insert batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit load transaction: %w", err)
	}
	s.logger.Info("run loaded", "run_id", runID, "rows", len(rows))
	return nil
}

func (s *Store) insertRow(row domain.DistrictAggregate) (string, []any, error) {
	// No-data metrics store NULL, keeping "computed and empty" queryable
	// apart from a defined zero.
	var value any
	if !row.NoData {
		value = row.Value
	}
	return s.sb.Insert("district_aggregates").
		Columns("district_code", "dataset", "metric", "value", "sample_count", "no_data", "run_id").
		Values(row.District, row.Dataset, row.Metric, value, row.SampleCount, row.NoData, row.RunID).
		ToSql()
}

// RunRows reads back every aggregate row for a run, ordered by key.
// No-data rows come back with a zero value, matching how the aggregator
// emits them.
func (s *Store) RunRows(ctx context.Context, runID string) ([]domain.DistrictAggregate, error) {
	selSQL, args, err := s.sb.
		Select("district_code", "dataset", "metric", "COALESCE(value, 0)", "sample_count", "no_data", "run_id").
		From("district_aggregates").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("district_code", "dataset", "metric").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	pgRows, err := s.pool.Query(ctx, selSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query run rows: %w", err)
	}
	defer pgRows.Close()

	var rows []domain.DistrictAggregate
	for pgRows.Next() {
		var r domain.DistrictAggregate
		if err := pgRows.Scan(&r.District, &r.Dataset, &r.Metric, &r.Value, &r.SampleCount, &r.NoData, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, pgRows.Err()
}
