package postgres

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanverde/paris-green-etl/internal/domain"
)

func testStore() *Store {
	return &Store{sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func TestInsertRow(t *testing.T) {
	s := testStore()

	t.Run("measured row binds its value", func(t *testing.T) {
		sql, args, err := s.insertRow(domain.DistrictAggregate{
			District:    "75101",
			Dataset:     "green_space",
			Metric:      "total_area_m2",
			Value:       300,
			SampleCount: 2,
			RunID:       "run-001",
		})
		require.NoError(t, err)
		assert.Contains(t, sql, "INSERT INTO district_aggregates")
		assert.Contains(t, sql, "$7")
		require.Len(t, args, 7)
		assert.Equal(t, 300.0, args[3])
		assert.Equal(t, false, args[5])
	})

	t.Run("no-data row binds NULL", func(t *testing.T) {
		_, args, err := s.insertRow(domain.DistrictAggregate{
			District: "75101",
			Dataset:  "trees",
			Metric:   "tree_count",
			NoData:   true,
			RunID:    "run-001",
		})
		require.NoError(t, err)
		assert.Nil(t, args[3])
		assert.Equal(t, true, args[5])
	})
}

func TestRunRowsQuery(t *testing.T) {
	s := testStore()
	sql, args, err := s.sb.
		Select("district_code", "dataset", "metric", "COALESCE(value, 0)", "sample_count", "no_data", "run_id").
		From("district_aggregates").
		Where(sq.Eq{"run_id": "run-001"}).
		OrderBy("district_code", "dataset", "metric").
		ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY district_code, dataset, metric")
	assert.Equal(t, []any{"run-001"}, args)
}
