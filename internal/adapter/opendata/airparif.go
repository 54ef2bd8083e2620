package opendata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ArcGISClient fetches Airparif air-quality index features from an ArcGIS
// FeatureServer query endpoint as GeoJSON.
type ArcGISClient struct {
	queryURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewArcGISClient creates an Airparif FeatureServer client.
func NewArcGISClient(queryURL string, timeout time.Duration, logger *slog.Logger) *ArcGISClient {
	return &ArcGISClient{
		queryURL:   queryURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type featureCollection struct {
	Features []struct {
		ID         any             `json:"id"`
		Properties map[string]any  `json:"properties"`
		Geometry   json.RawMessage `json:"geometry"`
	} `json:"features"`
}

// Features queries all features and maps them to the common Record shape.
func (c *ArcGISClient) Features(ctx context.Context) ([]Record, error) {
	params := url.Values{
		"where":          {"1=1"},
		"outFields":      {"*"},
		"f":              {"geojson"},
		"returnGeometry": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("airparif request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("airparif API error: status %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode airparif response: %w", err)
	}

	records := make([]Record, 0, len(fc.Features))
	for i, f := range fc.Features {
		records = append(records, Record{
			RecordID: featureID(f.ID, f.Properties, i),
			Fields:   f.Properties,
			Geometry: f.Geometry,
		})
	}
	c.logger.Debug("fetched airparif features", "count", len(records))
	return records, nil
}

// featureID prefers the server-assigned identifiers so re-fetches of the
// same data keep stable IDs.
func featureID(id any, props map[string]any, index int) string {
	if s := fmt.Sprintf("%v", id); s != "" && s != "<nil>" {
		return "airparif-" + s
	}
	if site, ok := props["id_site"].(string); ok && site != "" {
		return "airparif-" + site
	}
	return fmt.Sprintf("airparif-%d", index)
}
