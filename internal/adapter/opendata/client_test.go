package opendata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string, pageSize int) *Client {
	t.Helper()
	return NewClient(baseURL, 5*time.Second, pageSize, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordsPagination(t *testing.T) {
	// Three rows at page size two: a full page, then a short page.
	rows := []Record{
		{RecordID: "r1", Fields: map[string]any{"n": 1.0}},
		{RecordID: "r2", Fields: map[string]any{"n": 2.0}},
		{RecordID: "r3", Fields: map[string]any{"n": 3.0}},
	}

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "/api/records/1.0/search/", r.URL.Path)
		assert.Equal(t, "parcs", r.URL.Query().Get("dataset"))
		assert.Equal(t, "2", r.URL.Query().Get("rows"))

		start := 0
		fmt.Sscanf(r.URL.Query().Get("start"), "%d", &start)
		end := min(start+2, len(rows))
		page := searchResponse{NHits: len(rows), Records: rows[start:end]}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2)
	got, err := c.Records(context.Background(), "parcs")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, requests)
	assert.Equal(t, "r3", got[2].RecordID)
}

func TestRecordsExactPageBoundary(t *testing.T) {
	// Two rows at page size two: a full page, then an empty one.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page searchResponse
		if r.URL.Query().Get("start") == "0" {
			page.Records = []Record{{RecordID: "r1"}, {RecordID: "r2"}}
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	got, err := testClient(t, srv.URL, 2).Records(context.Background(), "parcs")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRecordsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, 2).Records(context.Background(), "parcs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRecordsMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, 2).Records(context.Background(), "parcs")
	assert.Error(t, err)
}

func TestRecordsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(t, srv.URL, 2).Records(ctx, "parcs")
	assert.ErrorIs(t, err, context.Canceled)
}
