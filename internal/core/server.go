// Package core provides the HTTP chassis of the read-side API: a chi router
// with the cross-cutting middleware (recovery, request ids, logging, CORS,
// metrics, compression) applied before requests reach the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abschwenker/wps/internal/config"
	"github.com/abschwenker/wps/internal/observability"
)

// RouteRegistrar mounts a group of handlers. Handler packages expose one so
// core never imports them.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the API.
type Server struct {
	Config       config.ServerConfig
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	HealthProbes []HealthProbe
	Registrars   []RouteRegistrar
	// Version is reported by /health.
	Version string

	router *chi.Mux
	closer func()
}

// NewServer creates a server. Routes are mounted separately by MountRoutes so
// tests can add registrars first.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// OnShutdown registers fn to run from Shutdown, e.g. closing the pool.
func (s *Server) OnShutdown(fn func()) {
	s.closer = fn
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	if s.closer != nil {
		s.closer()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
