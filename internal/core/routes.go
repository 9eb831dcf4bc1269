package core

import (
	"context"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultRequestTimeout = 29 * time.Second

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the middleware chain, the domain registrars and the
// operational endpoints.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	for _, register := range s.Registrars {
		register(s.router)
	}

	s.router.Get("/health", s.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer(), promhttp.HandlerOpts{}))
}

// registerGlobalMiddleware applies middleware in order. Recoverer is
// outermost so it sees every panic; compression is innermost so logged
// status codes come from the handler.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(compress)
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config.RequestTimeout > 0 {
		return s.Config.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if len(s.Config.CorsAllowedOrigins) > 0 {
		return s.Config.CorsAllowedOrigins
	}
	return []string{"*"}
}

func (s *Server) gatherer() prometheus.Gatherer {
	if s.Metrics == nil {
		return prometheus.DefaultGatherer
	}
	return s.Metrics.Gatherer()
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
