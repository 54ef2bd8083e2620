// Package snapshot persists stage handoffs as JSON files so fetch, process
// and load can run as separate invocations: raw per-feed batches after
// fetch, and the computed aggregate set per run after process.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urbanverde/paris-green-etl/internal/domain"
)

// ErrNotFound reports a missing snapshot, e.g. running process before fetch.
var ErrNotFound = errors.New("snapshot not found")

// Store reads and writes snapshots under one data directory.
type Store struct {
	dir string
}

// NewStore creates the data directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) rawPath(feed domain.FeedID) string {
	return filepath.Join(s.dir, fmt.Sprintf("raw_%s.json", feed))
}

func (s *Store) aggregatePath(runID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("aggregates_%s.json", runID))
}

// SaveRaw writes one feed's fetch result, replacing any previous snapshot
// for the feed.
func (s *Store) SaveRaw(result domain.FetchResult) error {
	return s.write(s.rawPath(result.Feed), result)
}

// LoadRaw reads one feed's fetch result. Returns ErrNotFound when the feed
// was never fetched (or its fetch failed), which the process stage treats as
// a skipped feed, not an error.
func (s *Store) LoadRaw(feed domain.FeedID) (domain.FetchResult, error) {
	var result domain.FetchResult
	if err := s.read(s.rawPath(feed), &result); err != nil {
		return domain.FetchResult{}, err
	}
	return result, nil
}

// RemoveRaw deletes a feed's raw snapshot if one exists. The fetch stage
// calls it when a feed fails, so a later process stage reports the feed as
// failed instead of replaying the previous invocation's data.
func (s *Store) RemoveRaw(feed domain.FeedID) error {
	if err := os.Remove(s.rawPath(feed)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// SaveAggregates writes the run's aggregate rows.
func (s *Store) SaveAggregates(runID string, rows []domain.DistrictAggregate) error {
	return s.write(s.aggregatePath(runID), rows)
}

// LoadAggregates reads the run's aggregate rows.
func (s *Store) LoadAggregates(runID string) ([]domain.DistrictAggregate, error) {
	var rows []domain.DistrictAggregate
	if err := s.read(s.aggregatePath(runID), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// write marshals to a temp file and renames it into place, so a crashed
// stage never leaves a truncated snapshot behind.
func (s *Store) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *Store) read(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse snapshot %s: %w", filepath.Base(path), err)
	}
	return nil
}
