package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readiness struct {
	err error
}

func (r readiness) CheckReadiness(context.Context) error { return r.err }

func newTestServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	return NewServer(Config{Addr: ":0"}, ready, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, readiness{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := newTestServer(t, readiness{})
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		srv := newTestServer(t, readiness{err: errors.New("no run completed")})
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "no run completed", body["error"])
	})
}

// deadlineRecorder captures the context deadline the readiness check ran under.
type deadlineRecorder struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineRecorder) CheckReadiness(ctx context.Context) error {
	d.deadline, d.ok = ctx.Deadline()
	return nil
}

func TestConfiguredTimeouts(t *testing.T) {
	t.Run("server deadlines follow config", func(t *testing.T) {
		srv := NewServer(Config{Addr: ":0", Timeout: 3 * time.Second}, readiness{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.Equal(t, 3*time.Second, srv.httpServer.ReadTimeout)
		assert.Equal(t, 3*time.Second, srv.httpServer.WriteTimeout)
		assert.Equal(t, 18*time.Second, srv.httpServer.IdleTimeout)
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		srv := newTestServer(t, readiness{})
		assert.Equal(t, defaultTimeout, srv.httpServer.ReadTimeout)
		assert.Equal(t, defaultReadyTimeout, srv.readyTimeout)
	})

	t.Run("readiness check runs under the configured deadline", func(t *testing.T) {
		checker := &deadlineRecorder{}
		srv := NewServer(Config{Addr: ":0", ReadyTimeout: 250 * time.Millisecond}, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.True(t, checker.ok, "readiness context had no deadline")
		assert.LessOrEqual(t, time.Until(checker.deadline), 250*time.Millisecond)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, readiness{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, readiness{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
