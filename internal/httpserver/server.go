// Package httpserver implements the diagnostics HTTP surface exposed by the
// daemon process: liveness, readiness, Prometheus metrics, and a read-only
// status summary. It has no authenticated or tenant-scoped routes — unlike
// its counterpart in the teacher repo, this process has no inbound API of
// its own to protect.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/vulnsync/internal/store"
	"github.com/wisbric/vulnsync/internal/syncengine"
)

// Server holds the diagnostics HTTP server's dependencies.
type Server struct {
	Router *chi.Mux

	logger       *slog.Logger
	db           *store.DB
	orchestrator *syncengine.Orchestrator
	startedAt    time.Time
}

// NewServer builds the diagnostics router: request-id/logging/metrics
// middleware, panic recovery, and the healthz/readyz/metrics/status
// endpoints. metricsReg must already have the sync-domain metrics
// registered (see internal/telemetry.NewRegistry).
func NewServer(logger *slog.Logger, db *store.DB, orchestrator *syncengine.Orchestrator, metricsReg *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	metricsReg.MustRegister(requestDuration)

	s := &Server{
		Router:       chi.NewRouter(),
		logger:       logger,
		db:           db,
		orchestrator: orchestrator,
		startedAt:    time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.handleStatus)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleHealthz reports process liveness unconditionally: if this handler
// runs at all, the process is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness by confirming the storage file is still
// openable (schema migration already ran during Open, at process startup).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("readiness check: storage ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "storage not ready")
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape returned by handleStatus.
type statusResponse struct {
	UptimeSeconds    int64   `json:"uptime_seconds"`
	SyncState        string  `json:"sync_state"`
	SyncActive       bool    `json:"sync_active"`
	LastSuccessfulAt *string `json:"last_successful_sync_at"`
}

// handleStatus reports uptime, the orchestrator's current state, and the
// last recorded successful sync date.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, active := s.orchestrator.GetSyncState()

	resp := statusResponse{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SyncState:     string(state),
		SyncActive:    active,
	}

	last, err := s.db.GetLastSuccessfulSyncDate(r.Context())
	if err != nil {
		s.logger.Error("status check: reading last successful sync date", "error", err)
	} else if last.Valid {
		resp.LastSuccessfulAt = &last.String
	}

	Respond(w, http.StatusOK, resp)
}
