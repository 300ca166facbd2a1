// Package server provides the HTTP API for shiryo.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dispatch"
	"github.com/hyperjump/shiryo/internal/search"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/syncer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the components the API serves.
type Deps struct {
	Storage      storage.Storage
	Search       *search.Service
	Orchestrator *syncer.Orchestrator
	Assistant    *dispatch.Assistant
}

// Server is the HTTP server for the shiryo API.
type Server struct {
	deps           Deps
	config         *config.ServerConfig
	databasePath   string
	metricsEnabled bool
	logger         *zap.Logger
	server         *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics toggles GET /metrics.
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metricsEnabled = enabled }
}

// WithDatabasePath lets /health report the database size.
func WithDatabasePath(p string) Option {
	return func(s *Server) { s.databasePath = p }
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		deps:           deps,
		config:         cfg,
		metricsEnabled: true,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Sync progress is streamed for the whole run, so it stays outside the timeout.
	r.Post("/sync", s.handleSync)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Post("/search", s.handleSearch)
		r.Post("/ask", s.handleAsk)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/sync/status", s.handleSyncStatus)
		r.Get("/sync/runs", s.handleListRuns)
		r.Get("/sync/runs/{id}", s.handleGetRun)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Get("/health", s.handleHealth)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
