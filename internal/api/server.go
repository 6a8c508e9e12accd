// Package api provides the HTTP surface for the inference orchestrator: an
// OpenAI-compatible synchronous chat endpoint backed by the scheduler, plus
// operational endpoints for queue/throughput stats, model catalog state,
// health, and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/tutu/internal/health"
	"github.com/tutu-network/tutu/internal/infra/catalog"
	"github.com/tutu-network/tutu/internal/infra/modelmanager"
	"github.com/tutu-network/tutu/internal/infra/promptcache"
	"github.com/tutu-network/tutu/internal/infra/scheduler"
	"github.com/tutu-network/tutu/internal/infra/thermal"
)

// Server is the HTTP API server fronting the scheduler and its ambient
// components.
type Server struct {
	sched          *scheduler.Scheduler
	models         *modelmanager.Manager
	cache          *promptcache.Cache
	guard          *thermal.Guard
	health         *health.Checker
	requestTimeout time.Duration
	metricsEnabled bool
}

// NewServer creates a new API server wired to the given components.
// requestTimeout bounds how long handleChatCompletions awaits a submitted
// request before reporting TIMEOUT to the caller.
func NewServer(sched *scheduler.Scheduler, models *modelmanager.Manager, cache *promptcache.Cache, guard *thermal.Guard, checker *health.Checker, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Server{sched: sched, models: models, cache: cache, guard: guard, health: checker, requestTimeout: requestTimeout}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/chat/completions", s.handleChatCompletions)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", s.handleQueueStats)
		r.Get("/stats", s.handlePerfStats)
		r.Get("/models", s.handleModelSnapshot)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	statuses := s.health.Statuses()
	status := http.StatusOK
	if !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": s.health.IsHealthy(),
		"checks":  statuses,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.QueueStats())
}

func (s *Server) handlePerfStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.PerfStats())
}

func (s *Server) handleModelSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog":  catalog.Catalog,
		"snapshot": s.models.Snapshot(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response in OpenAI's error envelope shape.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds permissive CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
