// Package api serves run statistics, health probes and Prometheus metrics
// while a benchmark is running.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/health"
	"github.com/piwi3910/kvbench/internal/kvdb"
	"github.com/piwi3910/kvbench/internal/pool"
	"github.com/piwi3910/kvbench/internal/report"
)

const shutdownTimeout = 5 * time.Second

// Server is the stats HTTP endpoint.
type Server struct {
	cfg    *config.Config
	env    *kvdb.Env
	router chi.Router
	srv    *http.Server
}

// DatabaseStats is the state of one open database.
type DatabaseStats struct {
	ID        int          `json:"id"`
	Mode      string       `json:"mode"`
	Completed int          `json:"completed"`
	Pools     []pool.Stats `json:"pools"`
}

// Stats is the response of the stats endpoint.
type Stats struct {
	RunID       string           `json:"run_id"`
	Device      string           `json:"device"`
	API         string           `json:"api"`
	Mode        string           `json:"mode"`
	Completions int64            `json:"completions"`
	Databases   []DatabaseStats  `json:"databases"`
	Latency     []report.Summary `json:"latency"`
}

// New builds the router for env.
func New(cfg *config.Config, env *kvdb.Env) *Server {
	s := &Server{cfg: cfg, env: env}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Stats.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	healthHandler := health.NewHandler(health.NewChecker(s.databases))
	r.Get("/health", healthHandler.HealthHandler)
	r.Get("/health/live", healthHandler.LivenessHandler)
	r.Get("/health/ready", healthHandler.ReadinessHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/detailed", healthHandler.DetailedHandler)
		r.Get("/stats", s.GetStats)
		r.Get("/stats/databases/{id}", s.GetDatabase)
		r.Delete("/stats/completions", s.ResetCompletions)
	})

	s.router = r
	s.srv = &http.Server{
		Addr:         cfg.Stats.Listen,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Name identifies the server during shutdown.
func (s *Server) Name() string { return "stats" }

// Shutdown stops the listener and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Start serves until ctx is done, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("listen", s.cfg.Stats.Listen).Msg("Starting stats server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("stats server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down stats server")
		return err
	}
	return <-errCh
}

func (s *Server) databases() []health.Database {
	dbs := s.sortedDatabases()
	out := make([]health.Database, len(dbs))
	for i, db := range dbs {
		out[i] = db
	}
	return out
}

func (s *Server) sortedDatabases() []*kvdb.Database {
	dbs := s.env.Databases()
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].ID() < dbs[j].ID() })
	return dbs
}

func databaseStats(db *kvdb.Database) DatabaseStats {
	return DatabaseStats{
		ID:        db.ID(),
		Mode:      db.Mode().String(),
		Completed: db.Completed(),
		Pools:     db.PoolStats(),
	}
}

// GetStats reports the run, its databases and latency percentiles.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		RunID:       s.cfg.RunID,
		Device:      s.cfg.Device.Path,
		API:         s.env.API(),
		Mode:        s.env.Mode().String(),
		Completions: s.env.Completions(),
		Databases:   []DatabaseStats{},
		Latency:     report.FromSet(s.env.LatencyStats(), s.cfg.Latency.Percentiles),
	}

	for _, db := range s.sortedDatabases() {
		stats.Databases = append(stats.Databases, databaseStats(db))
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetDatabase reports one database.
func (s *Server) GetDatabase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "invalid database id", http.StatusBadRequest)
		return
	}

	for _, db := range s.env.Databases() {
		if db.ID() == id {
			writeJSON(w, http.StatusOK, databaseStats(db))
			return
		}
	}

	writeError(w, "database not found", http.StatusNotFound)
}

// ResetCompletions zeroes the completion counter.
func (s *Server) ResetCompletions(w http.ResponseWriter, r *http.Request) {
	s.env.ResetCompletions()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
