// Package health serves the operational HTTP surface: liveness,
// Prometheus metrics and a small stats endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"yogabot/internal/metrics"
	"yogabot/internal/scheduler"
	"yogabot/internal/storage"
	logx "yogabot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default ":8080"
	// Pprof mounts the runtime profiler under /debug/pprof. Off by
	// default; the endpoints leak internals and belong behind a firewall.
	Pprof bool
}

// SchedulerStats is the scheduler state exposed on /stats.
type SchedulerStats interface {
	PendingJobs() int
	JobsCreated() uint64
	Running() bool
	Jobs() []scheduler.JobSnapshot
}

type Service struct {
	cfg      Config
	store    storage.Store
	jobs     SchedulerStats
	gatherer prometheus.Gatherer
	log      logx.Logger

	mu      sync.Mutex
	srv     *http.Server
	started time.Time
}

func New(cfg Config, store storage.Store, jobs SchedulerStats, gatherer prometheus.Gatherer, log logx.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, jobs: jobs, gatherer: gatherer, log: log}
}

func (s *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", metrics.Handler(s.gatherer))
	if s.cfg.Pprof {
		r.HandleFunc("/debug/pprof/", hpprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return r
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return
	}
	s.started = time.Now()
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	srv := s.srv
	go func() {
		s.log.Info("service started", logx.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
	}
	s.log.Info("service stopped")
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(started).Round(time.Second).String(),
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Warn("stats query failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stats unavailable"})
		return
	}
	body := map[string]any{
		"total_users":       st.TotalUsers,
		"active_users":      st.ActiveUsers,
		"messages_sent":     st.MessagesSent,
		"pending_jobs":      s.jobs.PendingJobs(),
		"jobs_created":      s.jobs.JobsCreated(),
		"scheduler_running": s.jobs.Running(),
	}
	if next, ok := earliestFire(s.jobs.Jobs()); ok {
		body["next_fire_at"] = next.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func earliestFire(jobs []scheduler.JobSnapshot) (time.Time, bool) {
	var min time.Time
	for _, j := range jobs {
		if min.IsZero() || j.FireAt.Before(min) {
			min = j.FireAt
		}
	}
	return min, !min.IsZero()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
