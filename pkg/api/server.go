package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/health"
	"github.com/cuemby/scuttle/pkg/log"
	"github.com/cuemby/scuttle/pkg/manager"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Server is the HTTP control plane: a JSON adapter over manager.Manager
// plus the probe, metrics and event-stream endpoints.
type Server struct {
	manager  *manager.Manager
	checkers []health.Checker

	authToken string
	limiter   *rate.Limiter // nil = unlimited

	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer wires the manager and readiness checkers into an HTTP server
// on cfg.ListenAddr. Auth and rate limiting activate only when configured.
func NewServer(mgr *manager.Manager, checkers []health.Checker, cfg config.APIConfig) *Server {
	s := &Server{
		manager:   mgr,
		checkers:  checkers,
		authToken: cfg.AuthToken,
		logger:    log.WithComponent("api"),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.httpServer = &http.Server{
		Addr: cfg.ListenAddr,
		// No WriteTimeout: the SSE stream stays open until the client
		// disconnects.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the configured router. Exposed separately from Start so
// tests can mount it on httptest.NewServer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}
		if s.authToken != "" {
			r.Use(s.bearerAuth)
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleSubmitTask)
			r.Get("/", s.handleQueryTasks)
			r.Post("/bulk", s.handleSubmitTasksBulk)
			r.Post("/restart-failed", s.handleRestartFailed)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/pause", s.handlePauseTask)
				r.Post("/resume", s.handleResumeTask)
				r.Post("/cancel", s.handleCancelTask)
				r.Post("/restart", s.handleRestartTask)
				r.Put("/priority", s.handleChangePriority)
				r.Post("/claim", s.handleClaimTask)
				r.Post("/attempt", s.handleRecordAttempt)
			})
		})

		r.Route("/hosts", func(r chi.Router) {
			r.Post("/", s.handleCreateHost)
			r.Get("/", s.handleListHosts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetHost)
				r.Put("/", s.handleUpdateHost)
				r.Delete("/", s.handleDeleteHost)
				r.Post("/enable", s.handleEnableHost)
				r.Post("/disable", s.handleDisableHost)
				r.Get("/proxies", s.handleProxyStats)
				r.Post("/proxies", s.handleBindProxy)
				r.Delete("/proxies/{proxyID}", s.handleUnbindProxy)
				r.Post("/lease", s.handleAcquireLease)
			})
		})

		r.Route("/proxies", func(r chi.Router) {
			r.Post("/", s.handleCreateProxy)
			r.Get("/", s.handleListProxies)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProxy)
				r.Put("/", s.handleUpdateProxy)
				r.Delete("/", s.handleDeleteProxy)
				r.Post("/enable", s.handleEnableProxy)
				r.Post("/disable", s.handleDisableProxy)
				r.Post("/probe", s.handleProbeProxy)
			})
		})

		r.Post("/leases/{id}/release", s.handleReleaseLease)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.httpServer.Handler = s.Handler()
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("API shutting down")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is liveness: the process is up and serving. The body
// carries build and uptime facts but never a non-200 code.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": snap.Version,
		"uptime":  snap.Uptime,
	})
}

// handleReadyz runs the registered dependency checks and reports 503 on
// any failure, taking the replica out of rotation until the dependency
// recovers. Results also feed the component health gauge.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	type componentStatus struct {
		Healthy bool   `json:"healthy"`
		Message string `json:"message,omitempty"`
	}

	components := make(map[string]componentStatus, len(s.checkers))
	ready := true
	for _, checker := range s.checkers {
		result := checker.Check(r.Context())
		name := string(checker.Type())
		components[name] = componentStatus{Healthy: result.Healthy, Message: result.Message}
		metrics.UpdateComponent(name, result.Healthy, result.Message)
		if !result.Healthy {
			ready = false
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}

// handleStats returns entity totals for dashboards and the CLI.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.manager.Counts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
