package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scilex/scilex/internal/resilience"
)

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server serves the live run state: per-query progress, breaker states, and
// Prometheus metrics. It is read-only; collection is driven elsewhere.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	tracker    *Tracker
	breakers   *resilience.Registry
	logger     zerolog.Logger
}

// NewServer creates a status server over the given tracker and breaker
// registry. gatherer may be nil to disable the metrics endpoint.
func NewServer(
	cfg ServerConfig,
	tracker *Tracker,
	breakers *resilience.Registry,
	gatherer prometheus.Gatherer,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		tracker:  tracker,
		breakers: breakers,
		logger:   logger.With().Str("component", "status-server").Logger(),
	}

	s.router = s.buildRouter(gatherer)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter(gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/progress", s.progressHandler)
		r.Get("/progress/{source}/{queryID}", s.queryProgressHandler)
		r.Get("/breakers", s.breakersHandler)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Start starts the status server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("status server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on status address: %w", err)
	}
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the status server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) queryProgressHandler(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	queryID, err := strconv.Atoi(chi.URLParam(r, "queryID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query id must be an integer"})
		return
	}

	snap, ok := s.tracker.Query(source, queryID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no progress recorded for %s query %d", source, queryID),
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) breakersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breakers.Snapshot())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}
