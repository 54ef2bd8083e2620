// Command validate performs integrity checks over pipeline artifacts: the
// district boundary file, the raw feed snapshots written by the fetch stage,
// and the aggregate snapshot written by the process stage. It recomputes the
// aggregates from the raw snapshots and verifies the stored set matches,
// then checks the structural invariants every aggregate set must hold.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -data-dir data \
//	  -boundaries data/arrondissements.geojson \
//	  -run run-2026-08-27
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/urbanverde/paris-green-etl/internal/domain"
	"github.com/urbanverde/paris-green-etl/internal/observability"
	"github.com/urbanverde/paris-green-etl/internal/snapshot"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "data", "directory containing raw and aggregate snapshots")
	boundariesPath := flag.String("boundaries", "data/arrondissements.geojson", "path to the district boundary GeoJSON")
	runID := flag.String("run", "", "run identifier of the aggregate snapshot to validate")
	flag.Parse()

	if *runID == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*dataDir, *boundariesPath, *runID); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir, boundariesPath, runID string) int {
	fmt.Println("=== Paris Green ETL Artifact Validation ===")
	fmt.Println()

	boundaries, err := domain.LoadBoundaries(boundariesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load boundaries: %v\n", err)
		return 1
	}

	snapshots, err := snapshot.NewStore(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open data dir: %v\n", err)
		return 1
	}

	raw := make(map[domain.FeedID]domain.FetchResult)
	for _, feed := range domain.Feeds {
		result, err := snapshots.LoadRaw(feed)
		if err != nil {
			fmt.Printf("  note: no raw snapshot for %s (%v)\n", feed, err)
			continue
		}
		raw[feed] = result
	}

	stored, err := snapshots.LoadAggregates(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load aggregates for run %s: %v\n", runID, err)
		return 1
	}

	phases := []*phase{
		validateBoundaries(boundaries),
		validateRawSnapshots(raw),
		validateRecomputation(boundaries, raw, stored, runID),
		validateAggregateInvariants(boundaries, stored, runID),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Artifacts: %d districts, %d raw feeds, %d aggregate rows (run %s)\n",
		boundaries.Len(), len(raw), len(stored), runID)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: boundary reference data ──

func validateBoundaries(boundaries *domain.BoundarySet) *phase {
	p := &phase{name: "Boundary reference data"}

	if boundaries.Len() != 20 {
		p.errorf("expected 20 districts, got %d", boundaries.Len())
	}
	for n := 1; n <= 20; n++ {
		code := fmt.Sprintf("751%02d", n)
		b, ok := boundaries.Get(code)
		if !ok {
			p.errorf("district %s missing from boundary set", code)
			continue
		}
		if b.AreaM2 <= 0 {
			p.errorf("district %s has non-positive area %f", code, b.AreaM2)
		}
		if len(b.Geometry) == 0 {
			p.errorf("district %s has no geometry", code)
		}
		if b.Name == "" {
			p.errorf("district %s has no name", code)
		}
	}
	return p
}

// ── Phase 2: raw snapshots ──

func validateRawSnapshots(raw map[domain.FeedID]domain.FetchResult) *phase {
	p := &phase{name: "Raw feed snapshots"}

	for feed, result := range raw {
		if result.Feed != feed {
			p.errorf("%s: snapshot carries feed %q", feed, result.Feed)
		}
		if len(result.Records) == 0 {
			p.errorf("%s: snapshot has no records", feed)
			continue
		}
		seen := make(map[string]int, len(result.Records))
		for i, rec := range result.Records {
			if rec.SourceID == "" {
				p.errorf("%s: record %d has empty source id", feed, i)
				continue
			}
			if prev, dup := seen[rec.SourceID]; dup {
				p.errorf("%s: records %d and %d share source id %q", feed, prev, i, rec.SourceID)
			}
			seen[rec.SourceID] = i
		}
	}
	return p
}

// ── Phase 3: recomputation parity ──

// validateRecomputation runs the clean and aggregate steps over the raw
// snapshots and diffs the result against the stored aggregate snapshot.
// Both paths are deterministic, so any drift means the artifacts are stale
// or were produced by different code.
func validateRecomputation(boundaries *domain.BoundarySet, raw map[domain.FeedID]domain.FetchResult,
	stored []domain.DistrictAggregate, runID string) *phase {
	p := &phase{name: "Aggregate recomputation parity"}

	logger := observability.NewLogger("error", "text")
	cleaner := domain.NewCleaner(boundaries, logger)

	cleaned := make(map[domain.FeedID][]domain.CleanRecord, len(raw))
	for feed, result := range raw {
		records, _ := cleaner.Clean(feed, result.Records)
		cleaned[feed] = records
	}

	recomputed := domain.NewAggregator(boundaries).Aggregate(runID, cleaned)
	if diff := cmp.Diff(recomputed, stored); diff != "" {
		p.errorf("stored aggregates differ from recomputation (-recomputed +stored):\n%s", diff)
	}
	return p
}

// ── Phase 4: aggregate invariants ──

func validateAggregateInvariants(boundaries *domain.BoundarySet, rows []domain.DistrictAggregate, runID string) *phase {
	p := &phase{name: "Aggregate invariants"}

	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		if row.RunID != runID {
			p.errorf("row %d: run id %q, expected %q", i, row.RunID, runID)
		}
		if _, ok := boundaries.Get(row.District); !ok {
			p.errorf("row %d: unknown district %q", i, row.District)
		}
		if seen[row.Key()] {
			p.errorf("row %d: duplicate key %s", i, row.Key())
		}
		seen[row.Key()] = true

		if row.NoData {
			if row.Value != 0 {
				p.errorf("row %d (%s): no-data row carries value %f", i, row.Key(), row.Value)
			}
			if row.SampleCount != 0 {
				p.errorf("row %d (%s): no-data row carries %d samples", i, row.Key(), row.SampleCount)
			}
			continue
		}
		if row.SampleCount < 0 {
			p.errorf("row %d (%s): negative sample count %d", i, row.Key(), row.SampleCount)
		}
		switch row.Metric {
		case domain.MetricTotalAreaM2, domain.MetricSiteCount, domain.MetricTreeCount,
			domain.MetricCoolingCount, domain.MetricTreeDensityPerKm2,
			domain.MetricGreenCoverageRatio, domain.MetricTreesPerGreenHa:
			if row.Value < 0 {
				p.errorf("row %d (%s): negative value %f", i, row.Key(), row.Value)
			}
		}
	}

	if !sort.SliceIsSorted(rows, func(i, j int) bool {
		return rows[i].Key() < rows[j].Key()
	}) {
		p.errorf("rows are not sorted by (district, dataset, metric)")
	}
	return p
}
