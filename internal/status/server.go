// Package status serves the read-only operator API: engine state, risk
// posture, allocations, and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quanthelm/quanthelm/internal/allocator"
	"github.com/quanthelm/quanthelm/internal/execution"
	"github.com/quanthelm/quanthelm/internal/metrics"
	"github.com/quanthelm/quanthelm/internal/risk"
)

// Server is the local-only HTTP server. All endpoints are GET and JSON.
type Server struct {
	router *mux.Router
	server *http.Server
	logger zerolog.Logger

	engine   *execution.Engine
	alloc    *allocator.Allocator
	governor *risk.Governor
	metrics  *metrics.Registry
}

// NewServer wires the operator API around the live engine components.
func NewServer(addr string, engine *execution.Engine, alloc *allocator.Allocator,
	governor *risk.Governor, reg *metrics.Registry) *Server {

	s := &Server{
		router:   mux.NewRouter(),
		logger:   log.With().Str("component", "status").Logger(),
		engine:   engine,
		alloc:    alloc,
		governor: governor,
		metrics:  reg,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.Handle("/metrics",
		promhttp.HandlerFor(s.metrics.Prometheus(), promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/orders", s.handleOrders).Methods("GET")
	api.HandleFunc("/allocations", s.handleAllocations).Methods("GET")
	api.HandleFunc("/risk", s.handleRisk).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found", "path": r.URL.Path})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	daily, weekly, fromPeak := s.governor.Drawdowns()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":               s.engine.Mode(),
		"equity":             s.engine.Equity(),
		"realized_pnl":       s.engine.RealizedPnL(),
		"open_positions":     len(s.engine.Positions()),
		"halted":             s.governor.Halted(),
		"kill_switch":        s.engine.KillSwitch().State(),
		"drawdown_daily":     daily,
		"drawdown_weekly":    weekly,
		"drawdown_from_peak": fromPeak,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Positions())
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Orders())
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	var latest *allocator.AllocationDecision
	if decisions := s.alloc.Decisions(); len(decisions) > 0 {
		latest = &decisions[len(decisions)-1]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"arms":   s.alloc.Arms(),
		"latest": latest,
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": s.governor.Breakers(),
		"vetoes":   s.governor.Vetoes(),
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("status response encode failed")
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("status server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
