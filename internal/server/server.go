// Package server exposes the rule store and engine over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/history"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
	"github.com/bimmerbailey/prompthakcer/internal/settings"
	"github.com/bimmerbailey/prompthakcer/internal/source"
)

// maxBodyBytes caps request bodies on every /v1 route.
const maxBodyBytes = 1 << 20

// Deps are the collaborators a Server serves. Store is required; a nil
// Sink disables /v1/stats and /v1/history, a nil Settings skips persisting
// mutations and a nil Loader makes refresh a no-op.
type Deps struct {
	Store    *rules.Store
	Sink     history.Sink
	Loader   *source.Loader
	Settings settings.Provider
	Logger   *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg      config.ServerConfig
	store    *rules.Store
	engine   *engine.Engine
	sink     history.Sink
	loader   *source.Loader
	settings settings.Provider
	logger   *slog.Logger
	limiter  *rate.Limiter
	verified atomic.Pointer[[32]byte]
	router   *mux.Router
	server   *http.Server
}

// New creates a Server and registers its routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		engine:   engine.New(deps.Store, logger),
		sink:     deps.Sink,
		loader:   deps.Loader,
		settings: deps.Settings,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.metricsMiddleware)
	api.Use(s.authMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/presets", s.handleListPresets).Methods("GET")
	api.HandleFunc("/level", s.handleSetLevel).Methods("PUT")
	api.HandleFunc("/rules/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/rules/custom", s.handleAddCustom).Methods("POST")
	api.HandleFunc("/rules/custom/{id}", s.handleRemoveCustom).Methods("DELETE")
	api.HandleFunc("/rules/{id}/toggle", s.handleToggle).Methods("POST")
	api.HandleFunc("/optimize", s.handleOptimize).Methods("POST")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting api server", "addr", s.cfg.Addr, "auth", s.cfg.TokenHash != "", "rate_limit", s.cfg.RateLimit)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")
	return s.server.Shutdown(ctx)
}

// persist saves the store settings after a mutation. Failures are logged;
// the in-memory change stands.
func (s *Server) persist(ctx context.Context) {
	if s.settings == nil {
		return
	}
	if err := s.settings.Save(ctx, s.store.Settings()); err != nil {
		s.logger.Error("failed to save settings", "error", err)
	}
}
