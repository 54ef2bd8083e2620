package opendata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urbanverde/paris-green-etl/internal/domain"
	"github.com/urbanverde/paris-green-etl/internal/observability"
)

// datasets maps feeds to their opendata.paris.fr dataset slugs.
var datasets = map[domain.FeedID]string{
	domain.FeedGreenSpace:   "espaces-verts-et-assimiles",
	domain.FeedTrees:        "les-arbres",
	domain.FeedAirQuality:   "qualite-de-l-air-concentration-moyenne-no2-pm2-5-pm10-o3-a-partir-de-2015",
	domain.FeedCoolingSpace: "ilots-de-fraicheur-espaces-verts-frais",
}

// DatasetArrondissements is the boundary reference dataset, fetched through
// the same adapter but consumed as reference data rather than as a feed.
const DatasetArrondissements = "arrondissements"

// Adapter is the source adapter for every feed: the records API is the
// primary strategy, and a scrape of the dataset's export page is the
// fallback when the API call fails. The Airparif feed is API-only — its
// ArcGIS endpoint has no scrapeable listing page.
type Adapter struct {
	client   *Client
	airparif *ArcGISClient
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewAdapter creates the feed adapter. airparif may be nil to disable that
// feed.
func NewAdapter(client *Client, airparif *ArcGISClient, metrics *observability.Metrics, logger *slog.Logger) *Adapter {
	return &Adapter{client: client, airparif: airparif, metrics: metrics, logger: logger}
}

// Fetch produces the complete raw batch for one feed, tagged with the
// strategy that produced it. A feed that exhausts both strategies returns an
// error; the caller treats that as a per-feed failure, not a run failure.
func (a *Adapter) Fetch(ctx context.Context, feed domain.FeedID) (domain.FetchResult, error) {
	if feed == domain.FeedAirparif {
		return a.fetchAirparif(ctx)
	}

	dataset, ok := datasets[feed]
	if !ok {
		return domain.FetchResult{}, fmt.Errorf("no dataset configured for feed %q", feed)
	}

	strategy := domain.StrategyAPI
	records, err := a.client.Records(ctx, dataset)
	if err != nil {
		if ctx.Err() != nil {
			return domain.FetchResult{}, err
		}
		a.logger.Warn("API fetch failed, falling back to scrape",
			"feed", feed, "dataset", dataset, "error", err)

		strategy = domain.StrategyScrape
		records, err = a.client.ScrapeCSV(ctx, dataset)
		if err != nil {
			a.metrics.FetchFailures.WithLabelValues(string(feed)).Inc()
			return domain.FetchResult{}, fmt.Errorf("feed %s: API and scrape both failed: %w", feed, err)
		}
	}

	result := toFetchResult(feed, strategy, records)
	a.metrics.RecordsFetched.WithLabelValues(string(feed), string(strategy)).
		Add(float64(len(result.Records)))
	return result, nil
}

// FetchBoundaries pulls the arrondissements dataset and builds the district
// boundary reference from it.
func (a *Adapter) FetchBoundaries(ctx context.Context) (*domain.BoundarySet, error) {
	records, err := a.client.Records(ctx, DatasetArrondissements)
	if err != nil {
		return nil, fmt.Errorf("fetch arrondissements: %w", err)
	}
	result := toFetchResult("arrondissements", domain.StrategyAPI, records)
	return domain.BoundariesFromRecords(result.Records)
}

func (a *Adapter) fetchAirparif(ctx context.Context) (domain.FetchResult, error) {
	if a.airparif == nil {
		return domain.FetchResult{}, fmt.Errorf("airparif feed not configured")
	}
	records, err := a.airparif.Features(ctx)
	if err != nil {
		a.metrics.FetchFailures.WithLabelValues(string(domain.FeedAirparif)).Inc()
		return domain.FetchResult{}, fmt.Errorf("feed %s: %w", domain.FeedAirparif, err)
	}
	result := toFetchResult(domain.FeedAirparif, domain.StrategyAPI, records)
	a.metrics.RecordsFetched.WithLabelValues(string(domain.FeedAirparif), string(domain.StrategyAPI)).
		Add(float64(len(result.Records)))
	return result, nil
}

// toFetchResult converts API records into the pipeline's raw shape. Geometry
// parse failures are tolerated here: cleaning can still derive geometry from
// source fields, and records with neither are rejected there with a reason.
func toFetchResult(feed domain.FeedID, strategy domain.FetchStrategy, records []Record) domain.FetchResult {
	fetchedAt := domain.Now()
	raws := make([]domain.RawRecord, 0, len(records))
	for _, rec := range records {
		var geom *domain.Geometry
		if len(rec.Geometry) > 0 {
			geom, _ = domain.ParseGeoJSON(rec.Geometry)
		}
		raws = append(raws, domain.RawRecord{
			SourceID:  rec.RecordID,
			Feed:      feed,
			Geometry:  geom,
			Fields:    rec.Fields,
			FetchedAt: fetchedAt,
		})
	}
	return domain.FetchResult{
		Feed:      feed,
		Strategy:  strategy,
		Records:   raws,
		FetchedAt: fetchedAt,
	}
}
