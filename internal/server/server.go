// Package server exposes the admin HTTP surface: health, Prometheus metrics
// and read-only views of pending requests and resolution history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/joingate/internal/history"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Requests is the read side of the request store.
type Requests interface {
	ListPending() []requests.JoinRequest
	Lookup(ref string) (requests.JoinRequest, error)
}

// HealthCheck reports a component's health. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Server is the admin HTTP server.
type Server struct {
	addr     string
	requests Requests
	history  history.Store
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves /api/history from store.
func WithHistory(store history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithGatherer sets the registry served on /metrics. Defaults to the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetrics records request latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server listening on addr once started.
func New(addr string, reqs Requests, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		requests: reqs,
		gatherer: prometheus.DefaultGatherer,
		checks:   make(map[string]HealthCheck),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "admin-http")
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Get("/history", s.handleHistory)
	})
	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting admin http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start).Seconds())
		s.logger.Debug("http request", "method", r.Method, "route", route, "status", status)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	pending := s.requests.ListPending()
	if pending == nil {
		pending = []requests.JoinRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": pending, "count": len(pending)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	req, err := s.requests.Lookup(ref)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, req)
		return
	case errors.Is(err, requests.ErrAmbiguous):
		writeError(w, http.StatusConflict, err.Error())
		return
	case !errors.Is(err, requests.ErrNotFound):
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.history != nil {
		rec, err := s.history.Get(r.Context(), ref)
		if err != nil {
			s.logger.Warn("history lookup failed", "request_id", ref, "error", err)
			writeError(w, http.StatusInternalServerError, "history lookup failed")
			return
		}
		if rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("request %q not found", ref))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"records": []history.Record{}, "count": 0})
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	records, err := s.history.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Warn("history list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
