package domain

import (
	"math"
	"sort"
)

// Metric names persisted per feed and for the derived dataset.
const (
	MetricTotalAreaM2  = "total_area_m2"
	MetricSiteCount    = "site_count"
	MetricTreeCount    = "tree_count"
	MetricCoolingCount = "cooling_count"

	MetricTreeDensityPerKm2  = "tree_density_per_km2"
	MetricGreenCoverageRatio = "green_coverage_ratio"
	MetricTreesPerGreenHa    = "trees_per_green_hectare"
)

var pollutants = []string{"no2", "pm25", "pm10", "o3"}

// Aggregator turns clean records from multiple feeds into per-district
// aggregate rows for one run.
//
// Two absent states are kept distinct: a district with zero qualifying
// records for a processed feed gets a row with sample count 0 and the
// no-data marker, while a district never seen by any feed gets no row at
// all. Derived ratios with an absent or zero denominator are likewise
// recorded as no-data, never as 0 or ±Inf.
type Aggregator struct {
	boundaries *BoundarySet
}

// NewAggregator creates an Aggregator using the given boundary reference for
// district surface areas.
func NewAggregator(boundaries *BoundarySet) *Aggregator {
	return &Aggregator{boundaries: boundaries}
}

// Aggregate computes every per-feed and derived aggregate for the run.
// Only feeds present in the input map were processed this run; a feed whose
// fetch failed contributes no rows rather than fake empty ones.
//
// Accumulation order is fixed: records are summed sorted by their stable ID,
// and rows are emitted sorted by (district, dataset, metric), so identical
// input produces bit-identical output.
func (a *Aggregator) Aggregate(runID string, feeds map[FeedID][]CleanRecord) []DistrictAggregate {
	grouped := make(map[FeedID]map[string][]CleanRecord, len(feeds))
	districtSet := make(map[string]struct{})
	for feed, records := range feeds {
		byDistrict := make(map[string][]CleanRecord)
		for _, rec := range records {
			byDistrict[rec.District] = append(byDistrict[rec.District], rec)
			districtSet[rec.District] = struct{}{}
		}
		for _, group := range byDistrict {
			sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		}
		grouped[feed] = byDistrict
	}

	districts := make([]string, 0, len(districtSet))
	for d := range districtSet {
		districts = append(districts, d)
	}
	sort.Strings(districts)

	var rows []DistrictAggregate
	for _, district := range districts {
		for _, feed := range Feeds {
			byDistrict, processed := grouped[feed]
			if !processed {
				continue
			}
			rows = append(rows, feedAggregates(runID, district, feed, byDistrict[district])...)
		}
		rows = append(rows, a.derivedAggregates(runID, district, grouped)...)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].District != rows[j].District {
			return rows[i].District < rows[j].District
		}
		if rows[i].Dataset != rows[j].Dataset {
			return rows[i].Dataset < rows[j].Dataset
		}
		return rows[i].Metric < rows[j].Metric
	})
	return rows
}

// feedAggregates computes the per-feed metrics for one district's group.
// An empty group yields a no-data row per metric with sample count zero.
func feedAggregates(runID, district string, feed FeedID, group []CleanRecord) []DistrictAggregate {
	row := func(metric string, value float64, samples int, noData bool) DistrictAggregate {
		return DistrictAggregate{
			District:    district,
			Dataset:     string(feed),
			Metric:      metric,
			Value:       value,
			SampleCount: samples,
			NoData:      noData,
			RunID:       runID,
		}
	}

	switch feed {
	case FeedGreenSpace:
		sum, samples := sumKnown(group, "area_m2")
		rows := []DistrictAggregate{row(MetricTotalAreaM2, sum, samples, samples == 0)}
		if len(group) == 0 {
			rows = append(rows, row(MetricSiteCount, 0, 0, true))
		} else {
			rows = append(rows, row(MetricSiteCount, float64(len(group)), len(group), false))
		}
		return rows

	case FeedTrees:
		if len(group) == 0 {
			return []DistrictAggregate{row(MetricTreeCount, 0, 0, true)}
		}
		return []DistrictAggregate{row(MetricTreeCount, float64(len(group)), len(group), false)}

	case FeedCoolingSpace:
		if len(group) == 0 {
			return []DistrictAggregate{row(MetricCoolingCount, 0, 0, true)}
		}
		return []DistrictAggregate{row(MetricCoolingCount, float64(len(group)), len(group), false)}

	case FeedAirQuality, FeedAirparif:
		rows := make([]DistrictAggregate, 0, len(pollutants))
		for _, pollutant := range pollutants {
			sum, samples := sumKnown(group, pollutant)
			if samples == 0 {
				rows = append(rows, row("mean_"+pollutant, 0, 0, true))
				continue
			}
			rows = append(rows, row("mean_"+pollutant, sum/float64(samples), samples, false))
		}
		return rows

	default:
		return nil
	}
}

// derivedAggregates computes the cross-feed metrics for one district.
// Each derived metric is emitted whenever its numerator feed was processed
// this run; undefined inputs surface as no-data rows.
func (a *Aggregator) derivedAggregates(runID, district string, grouped map[FeedID]map[string][]CleanRecord) []DistrictAggregate {
	row := func(metric string, value float64, samples int, noData bool) DistrictAggregate {
		return DistrictAggregate{
			District:    district,
			Dataset:     DatasetDerived,
			Metric:      metric,
			Value:       value,
			SampleCount: samples,
			NoData:      noData,
			RunID:       runID,
		}
	}

	var districtAreaM2 float64
	if b, ok := a.boundaries.Get(district); ok {
		districtAreaM2 = b.AreaM2
	}

	treesByDistrict, treesProcessed := grouped[FeedTrees]
	greenByDistrict, greenProcessed := grouped[FeedGreenSpace]

	treeCount := 0
	if treesProcessed {
		treeCount = len(treesByDistrict[district])
	}
	greenArea, greenSamples := 0.0, 0
	if greenProcessed {
		greenArea, greenSamples = sumKnown(greenByDistrict[district], "area_m2")
	}

	var rows []DistrictAggregate

	if treesProcessed {
		if districtAreaM2 > 0 {
			density := float64(treeCount) / (districtAreaM2 / 1e6)
			rows = append(rows, row(MetricTreeDensityPerKm2, density, treeCount, false))
		} else {
			rows = append(rows, row(MetricTreeDensityPerKm2, 0, 0, true))
		}
	}

	if greenProcessed {
		if districtAreaM2 > 0 && greenSamples > 0 {
			rows = append(rows, row(MetricGreenCoverageRatio, greenArea/districtAreaM2, greenSamples, false))
		} else {
			rows = append(rows, row(MetricGreenCoverageRatio, 0, 0, true))
		}
	}

	if treesProcessed {
		// Undefined when the green-space aggregate is absent or zero: a
		// district can have trees and no measured green surface, and
		// 5 trees over 0 m² is no-data, not infinity.
		if greenProcessed && greenSamples > 0 && greenArea > 0 {
			rows = append(rows, row(MetricTreesPerGreenHa, float64(treeCount)/(greenArea/10_000), treeCount, false))
		} else {
			rows = append(rows, row(MetricTreesPerGreenHa, 0, 0, true))
		}
	}

	return rows
}

// sumKnown sums a value over the group's records that know it, in the
// group's (ID-sorted) order. Returns the sum and the sample count.
func sumKnown(group []CleanRecord, key string) (float64, int) {
	var sum float64
	samples := 0
	for _, rec := range group {
		q := rec.Values[key]
		if !q.Known {
			continue
		}
		sum += q.Value
		samples++
	}
	return sum, samples
}

// TreeDensityNO2Correlation computes the Pearson correlation between tree
// density and mean NO₂ across districts where both metrics are defined.
// Returns the coefficient, the number of paired districts, and whether the
// correlation is defined (at least two pairs and nonzero variance on both
// sides).
func TreeDensityNO2Correlation(aggs []DistrictAggregate) (float64, int, bool) {
	density := make(map[string]float64)
	no2 := make(map[string]float64)
	for _, a := range aggs {
		if a.NoData {
			continue
		}
		switch {
		case a.Dataset == DatasetDerived && a.Metric == MetricTreeDensityPerKm2:
			density[a.District] = a.Value
		case a.Dataset == string(FeedAirQuality) && a.Metric == "mean_no2":
			no2[a.District] = a.Value
		}
	}

	districts := make([]string, 0, len(density))
	for d := range density {
		if _, ok := no2[d]; ok {
			districts = append(districts, d)
		}
	}
	sort.Strings(districts)

	n := len(districts)
	if n < 2 {
		return 0, n, false
	}

	var sumX, sumY float64
	for _, d := range districts {
		sumX += density[d]
		sumY += no2[d]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for _, d := range districts {
		dx, dy := density[d]-meanX, no2[d]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, n, false
	}
	return cov / math.Sqrt(varX*varY), n, true
}
