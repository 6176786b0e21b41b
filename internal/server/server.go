// Package server implements the minimal HTTP process surface spec.md §7
// calls for: health, readiness, and the three error-tracker read
// endpoints. Grounded on the teacher's internal/server/server.go
// (chi.NewRouter, the middleware stack, cors.Handler config, the
// /health and /api route shape) narrowed to this scope — everything
// else that repo's server.go wires (the dashboard API, SSE event
// stream, deployment/backup/job-trigger routes) is explicitly out of
// scope here per spec.md §7 and the HTTP surface entry in the domain
// stack.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/errtracker"
	"github.com/aristath/sentinel/internal/status"
)

// ReadinessFn reports whether the process is ready to accept traffic,
// e.g. every database migrated and the market-data bus running.
type ReadinessFn func() error

// Config holds everything Server needs to wire its routes.
type Config struct {
	Addr        string
	DevMode     bool
	Tracker     *errtracker.Tracker
	Status      *status.Collector
	Readiness   ReadinessFn
	Log         zerolog.Logger
}

// Server is the process's HTTP surface.
type Server struct {
	router chi.Router
	http   *http.Server
	log    zerolog.Logger
	tracker *errtracker.Tracker
	statusc *status.Collector
	ready   ReadinessFn
}

// New constructs a Server with routes wired but not yet listening.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		tracker: cfg.Tracker,
		statusc: cfg.Status,
		ready:   cfg.Readiness,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", ww.Status()).Dur("elapsed", time.Since(start)).Msg("http request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)

	s.router.Route("/api/errors", func(r chi.Router) {
		r.Get("/recent", s.handleErrorsRecent)
		r.Get("/counts", s.handleErrorsCounts)
		r.Get("/critical", s.handleErrorsCritical)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if s.statusc != nil {
		body["resources"] = s.statusc.Sample(100 * time.Millisecond)
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleErrorsRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, s.tracker.Recent(limit))
}

func (s *Server) handleErrorsCounts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"by_severity": s.tracker.CountsBySeverity(),
		"by_category": s.tracker.CountsByCategory(),
	})
}

func (s *Server) handleErrorsCritical(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.CriticalOnly())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// ListenAndServe starts the HTTP server, blocking until it returns an
// error (including http.ErrServerClosed on a clean Shutdown).
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
