package opendata

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/urbanverde/paris-green-etl/internal/domain"
)

// ScrapeCSV is the fallback fetch path: it loads the dataset's public export
// page, finds the CSV export link, downloads it and parses the
// semicolon-separated CSV into the same Record shape the API produces.
// Field extraction is best effort — column headers are canonicalized to the
// API's snake_case field names.
func (c *Client) ScrapeCSV(ctx context.Context, dataset string) ([]Record, error) {
	exportURL := fmt.Sprintf("%s/explore/dataset/%s/export/", c.baseURL, url.PathEscape(dataset))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := c.fetchDocument(ctx, exportURL)
	if err != nil {
		return nil, err
	}

	csvHref, err := findCSVLink(doc)
	if err != nil {
		return nil, fmt.Errorf("export page for %s: %w", dataset, err)
	}
	csvURL, err := resolveURL(exportURL, csvHref)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.fetchBody(ctx, csvURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := parseSemicolonCSV(dataset, body)
	if err != nil {
		return nil, fmt.Errorf("parse scraped CSV for %s: %w", dataset, err)
	}
	c.logger.Info("scraped dataset export", "dataset", dataset, "rows", len(records))
	return records, nil
}

func (c *Client) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := c.fetchBody(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse export page: %w", err)
	}
	return doc, nil
}

func (c *Client) fetchBody(ctx context.Context, fullURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("scrape error: status %d for %s", resp.StatusCode, fullURL)
	}
	return resp.Body, nil
}

// findCSVLink returns the first anchor whose href points at a CSV export.
func findCSVLink(doc *goquery.Document) (string, error) {
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		h, _ := sel.Attr("href")
		if strings.Contains(strings.ToLower(h), "csv") {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		return "", fmt.Errorf("no CSV link found")
	}
	return href, nil
}

func resolveURL(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("malformed CSV link %q: %w", href, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// parseSemicolonCSV reads the portal's CSV export (semicolon separator,
// header row) into Records. Row IDs are content hashes so a re-scrape of the
// same export yields the same IDs the aggregation can sort on.
func parseSemicolonCSV(dataset string, r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = canonicalColumn(h)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		fields := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				fields[col] = row[i]
			}
		}
		records = append(records, Record{
			RecordID: scrapedRowID(dataset, row),
			Fields:   fields,
		})
	}
	return records, nil
}

// canonicalColumn maps a CSV header to the API's field naming:
// "Surface totale réelle" → "surface_totale_reelle".
func canonicalColumn(header string) string {
	return strings.ReplaceAll(domain.NormalizeLocality(header), " ", "_")
}

func scrapedRowID(dataset string, row []string) string {
	hash := sha256.Sum256([]byte(dataset + "|" + strings.Join(row, "|")))
	return hex.EncodeToString(hash[:12])
}
