package opendata

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanverde/paris-green-etl/internal/domain"
	"github.com/urbanverde/paris-green-etl/internal/observability"
)

func testAdapter(t *testing.T, baseURL string, airparif *ArcGISClient) *Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(baseURL, 5*time.Second, 100, 1000, logger)
	return NewAdapter(client, airparif, observability.NewMetricsForTesting(), logger)
}

func TestFetchViaAPI(t *testing.T) {
	fetchTime := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fetchTime))
	defer domain.SetClock(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/records/1.0/search/", r.URL.Path)
		json.NewEncoder(w).Encode(searchResponse{Records: []Record{
			{
				RecordID: "gs-1",
				Fields:   map[string]any{"surface_m2": 100.0},
				Geometry: json.RawMessage(`{"type":"Point","coordinates":[2.31,48.86]}`),
			},
		}})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL, nil)
	result, err := a.Fetch(context.Background(), domain.FeedGreenSpace)
	require.NoError(t, err)

	assert.Equal(t, domain.FeedGreenSpace, result.Feed)
	assert.Equal(t, domain.StrategyAPI, result.Strategy)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "gs-1", result.Records[0].SourceID)
	require.NotNil(t, result.Records[0].Geometry)
	assert.Equal(t, 48.86, result.Records[0].Geometry.Point.Lat)
	assert.Equal(t, fetchTime, result.FetchedAt)
	assert.Equal(t, fetchTime, result.Records[0].FetchedAt)
}

func TestFetchFallsBackToScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"):
			http.Error(w, "api disabled", http.StatusForbidden)
		case strings.HasSuffix(r.URL.Path, "/export/"):
			w.Write([]byte(`<html><a href="/dl?format=csv">CSV</a></html>`))
		case r.URL.Path == "/dl":
			w.Write([]byte("identifiant;surface m2\nx-1;42\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL, nil)
	result, err := a.Fetch(context.Background(), domain.FeedGreenSpace)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyScrape, result.Strategy)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "42", result.Records[0].Fields["surface_m2"])
}

func TestFetchBothStrategiesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL, nil)
	_, err := a.Fetch(context.Background(), domain.FeedTrees)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API and scrape both failed")
}

func TestFetchCancelledContextSkipsFallback(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := testAdapter(t, srv.URL, nil)
	_, err := a.Fetch(ctx, domain.FeedTrees)
	require.Error(t, err)
	assert.Zero(t, requests)
}

func TestFetchUnknownFeed(t *testing.T) {
	a := testAdapter(t, "http://127.0.0.1:0", nil)
	_, err := a.Fetch(context.Background(), domain.FeedID("weather"))
	assert.Error(t, err)
}

func TestFetchToleratesBadGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{Records: []Record{
			{RecordID: "t-1", Fields: map[string]any{"lat": 48.86}, Geometry: json.RawMessage(`{"type":"Weird"}`)},
		}})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL, nil)
	result, err := a.Fetch(context.Background(), domain.FeedTrees)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Nil(t, result.Records[0].Geometry)
	assert.Equal(t, 48.86, result.Records[0].Fields["lat"])
}

func TestFetchBoundaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "arrondissements", r.URL.Query().Get("dataset"))
		json.NewEncoder(w).Encode(searchResponse{Records: []Record{
			{
				RecordID: "ar-1",
				Fields:   map[string]any{"c_ar": 1.0, "l_aroff": "Louvre"},
				Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[2.30,48.85],[2.32,48.85],[2.32,48.87],[2.30,48.87],[2.30,48.85]]]}`),
			},
		}})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL, nil)
	bs, err := a.FetchBoundaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Len())
	b, ok := bs.Get("75101")
	require.True(t, ok)
	assert.Equal(t, "Louvre", b.Name)
}

func TestFetchAirparif(t *testing.T) {
	t.Run("feature collection maps to records", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "geojson", r.URL.Query().Get("f"))
			w.Write([]byte(`{"type":"FeatureCollection","features":[
				{"id":7,"properties":{"no2":38.0,"id_site":"PA04C"},"geometry":{"type":"Point","coordinates":[2.35,48.85]}},
				{"properties":{"id_site":"PA07"},"geometry":null}
			]}`))
		}))
		defer srv.Close()

		airparif := NewArcGISClient(srv.URL, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
		a := testAdapter(t, "http://127.0.0.1:0", airparif)

		result, err := a.Fetch(context.Background(), domain.FeedAirparif)
		require.NoError(t, err)
		assert.Equal(t, domain.StrategyAPI, result.Strategy)
		require.Len(t, result.Records, 2)
		assert.Equal(t, "airparif-7", result.Records[0].SourceID)
		assert.Equal(t, "airparif-PA07", result.Records[1].SourceID)
		require.NotNil(t, result.Records[0].Geometry)
		assert.Equal(t, 48.85, result.Records[0].Geometry.Point.Lat)
	})

	t.Run("not configured", func(t *testing.T) {
		a := testAdapter(t, "http://127.0.0.1:0", nil)
		_, err := a.Fetch(context.Background(), domain.FeedAirparif)
		assert.Error(t, err)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer srv.Close()

		airparif := NewArcGISClient(srv.URL, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
		a := testAdapter(t, "http://127.0.0.1:0", airparif)
		_, err := a.Fetch(context.Background(), domain.FeedAirparif)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})
}
