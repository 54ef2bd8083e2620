// Package httpserver exposes the pipeline's operational endpoints: liveness,
// readiness gated on a completed run, and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the pipeline has produced results yet.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Config carries the listen address and request deadlines. Zero durations
// fall back to defaults sized for health-check traffic.
type Config struct {
	Addr         string
	Timeout      time.Duration // read and write deadline per request
	ReadyTimeout time.Duration // budget for one readiness check
}

const (
	defaultTimeout      = 10 * time.Second
	defaultReadyTimeout = 2 * time.Second
)

// Server serves /healthz, /readyz, and /metrics for a running pipeline.
type Server struct {
	httpServer   *http.Server
	ready        ReadinessChecker
	readyTimeout time.Duration
	logger       *slog.Logger
}

func NewServer(cfg Config, ready ReadinessChecker, logger *slog.Logger) *Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}

	s := &Server{
		ready:        ready,
		readyTimeout: readyTimeout,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", getOnly(s.handleHealth))
	mux.HandleFunc("/readyz", getOnly(s.handleReady))
	mux.Handle("/metrics", getOnly(promhttp.Handler().ServeHTTP))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  6 * timeout,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// getOnly restricts a handler to GET (and HEAD) requests, answering 405 with
// an Allow header otherwise, matching the behavior of a "GET /path" ServeMux
// pattern on Go 1.22+. Needed because this module builds with Go 1.21, whose
// ServeMux does not support method patterns.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady answers 200 once the pipeline has a completed run behind it,
// 503 with the reason before that. The check runs under its own deadline so
// a wedged pipeline cannot hold the request open.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	if err := s.ready.CheckReadiness(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write health response", "error", err)
	}
}
