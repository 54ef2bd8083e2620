package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanverde/paris-green-etl/internal/domain"
	"github.com/urbanverde/paris-green-etl/internal/pipeline"
	"github.com/urbanverde/paris-green-etl/internal/snapshot"
)

func TestSnapshotOutcomes(t *testing.T) {
	result := func(feed domain.FeedID, id string) domain.FetchResult {
		return domain.FetchResult{
			Feed:      feed,
			Strategy:  domain.StrategyAPI,
			Records:   []domain.RawRecord{{SourceID: id, Feed: feed}},
			FetchedAt: time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		}
	}

	t.Run("successful fetches are persisted", func(t *testing.T) {
		store, err := snapshot.NewStore(t.TempDir())
		require.NoError(t, err)

		outcomes := map[domain.FeedID]pipeline.FetchOutcome{
			domain.FeedTrees: {Result: result(domain.FeedTrees, "tr-1")},
		}
		require.NoError(t, snapshotOutcomes(store, outcomes))

		saved, err := store.LoadRaw(domain.FeedTrees)
		require.NoError(t, err)
		assert.Equal(t, "tr-1", saved.Records[0].SourceID)
	})

	t.Run("failed fetch discards the previous snapshot", func(t *testing.T) {
		store, err := snapshot.NewStore(t.TempDir())
		require.NoError(t, err)

		// A snapshot from an earlier invocation is on disk.
		require.NoError(t, store.SaveRaw(result(domain.FeedTrees, "tr-old")))

		outcomes := map[domain.FeedID]pipeline.FetchOutcome{
			domain.FeedTrees: {Err: errors.New("portal unreachable")},
		}
		require.NoError(t, snapshotOutcomes(store, outcomes))

		// The process stage must now see the feed as failed, not the old data.
		_, err = store.LoadRaw(domain.FeedTrees)
		assert.ErrorIs(t, err, snapshot.ErrNotFound)
	})

	t.Run("failed fetch with no previous snapshot is a no-op", func(t *testing.T) {
		store, err := snapshot.NewStore(t.TempDir())
		require.NoError(t, err)

		outcomes := map[domain.FeedID]pipeline.FetchOutcome{
			domain.FeedAirQuality: {Err: errors.New("portal unreachable")},
		}
		assert.NoError(t, snapshotOutcomes(store, outcomes))
	})
}
