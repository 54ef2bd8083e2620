package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// FeedID identifies one external open-data feed.
type FeedID string

const (
	FeedGreenSpace   FeedID = "green_space"
	FeedTrees        FeedID = "trees"
	FeedAirQuality   FeedID = "air_quality"
	FeedCoolingSpace FeedID = "cooling_space"
	FeedAirparif     FeedID = "airparif"
)

// Feeds lists every ingestable feed in the order the pipeline processes them.
var Feeds = []FeedID{FeedGreenSpace, FeedTrees, FeedAirQuality, FeedCoolingSpace, FeedAirparif}

// DatasetDerived is the dataset name for cross-feed derived metrics, which
// have no single source feed.
const DatasetDerived = "derived"

// FetchStrategy records which adapter path produced a batch of raw records.
type FetchStrategy string

const (
	StrategyAPI    FetchStrategy = "api"
	StrategyScrape FetchStrategy = "scrape"
)

// RawRecord is one fetched entity exactly as the source delivered it, plus
// the geometry the source attached (nil when the payload carried none).
// Raw records are transient: they exist only between fetch and cleaning.
type RawRecord struct {
	SourceID  string         `json:"source_id"`
	Feed      FeedID         `json:"feed"`
	Geometry  *Geometry      `json:"geometry,omitempty"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// FetchResult is the tagged outcome of one feed's fetch: the strategy that
// succeeded and the complete ordered batch it produced.
type FetchResult struct {
	Feed      FeedID        `json:"feed"`
	Strategy  FetchStrategy `json:"strategy"`
	Records   []RawRecord   `json:"records"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Quantity is a numeric field that keeps "unknown" distinct from zero.
// Zero is a valid measurement (a park can have 0 m² of lawn); a missing or
// unparseable value must never collapse into it.
type Quantity struct {
	Value float64 `json:"value"`
	Known bool    `json:"known"`
}

// KnownQuantity returns a quantity holding v.
func KnownQuantity(v float64) Quantity { return Quantity{Value: v, Known: true} }

// UnknownQuantity returns the explicit unknown state.
func UnknownQuantity() Quantity { return Quantity{} }

// CleanRecord is a RawRecord after normalization: canonical field names and
// units, and a resolved canonical district code. A record that cannot be
// given a district code never becomes a CleanRecord; it is rejected instead.
type CleanRecord struct {
	ID       string
	Feed     FeedID
	District string
	Geometry *Geometry
	Values   map[string]Quantity
}

// RejectReason is a machine-readable code explaining why a record was
// excluded from cleaning.
type RejectReason string

const (
	ReasonMissingField       RejectReason = "missing_field"
	ReasonBadType            RejectReason = "bad_type"
	ReasonBadGeometry        RejectReason = "bad_geometry"
	ReasonDistrictUnresolved RejectReason = "district_unresolved"
	ReasonDistrictConflict   RejectReason = "district_conflict"
	ReasonOutOfRange         RejectReason = "value_out_of_range"
)

// Rejection pairs an excluded record with the reason it was excluded.
type Rejection struct {
	SourceID string       `json:"source_id"`
	Feed     FeedID       `json:"feed"`
	Reason   RejectReason `json:"reason"`
	Detail   string       `json:"detail,omitempty"`
}

// DistrictAggregate is one computed metric for one district under one run.
// It is the only entity that outlives a pipeline run. For a given
// (district, dataset, metric, run) at most one row exists; re-running a run
// identifier overwrites rather than appends.
//
// NoData marks a metric that was computed and found empty or undefined,
// as opposed to a district that never appeared in the input at all (which
// produces no row).
type DistrictAggregate struct {
	District    string  `json:"district"`
	Dataset     string  `json:"dataset"`
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	SampleCount int     `json:"sample_count"`
	NoData      bool    `json:"no_data"`
	RunID       string  `json:"run_id"`
}

// Key returns the upsert identity of the aggregate.
func (a DistrictAggregate) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", a.District, a.Dataset, a.Metric, a.RunID)
}

// recordID produces a deterministic ID from a record's identifying fields.
// Deterministic IDs give the aggregation a stable accumulation order, so
// repeated runs over the same snapshot sum floats identically.
func recordID(feed FeedID, sourceID string, lat, lon float64) string {
	input := fmt.Sprintf("%s|%s|%.6f|%.6f", feed, sourceID, lat, lon)
	hash := sha256.Sum256([]byte(input))
	return string(feed) + "-" + hex.EncodeToString(hash[:8])
}
