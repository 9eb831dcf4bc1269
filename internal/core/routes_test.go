package core

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/abschwenker/wps/internal/config"
	"github.com/abschwenker/wps/internal/observability"
	"github.com/abschwenker/wps/internal/types"
)

func newTestServerForRoutes(t *testing.T, cfg config.ServerConfig, logger *slog.Logger) *Server {
	t.Helper()
	if logger == nil {
		logger = discardLogger()
	}
	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	srv.Metrics = observability.NewMetricsForTesting()
	srv.Registrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/c-haines/{model}/echo", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, map[string]string{
				"model":      chi.URLParam(r, "model"),
				"request_id": types.GetRequestID(r.Context()),
			})
		})
		r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("handler exploded") })
		r.Get("/deadline", func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); !ok {
				t.Error("request context has no deadline")
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/large", func(w http.ResponseWriter, r *http.Request) {
			Body(w, http.StatusOK, "application/json", bytes.Repeat([]byte(`{"severity":1}`), 1000))
		})
	}}
	srv.MountRoutes()
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRoutes_RegistrarMounted(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/c-haines/GDPS/echo", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"model":"GDPS"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRoutes_RequestIDGeneratedAndPropagated(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/c-haines/GDPS/echo", nil))
	generated := w.Header().Get("X-Request-Id")
	if len(generated) != 36 {
		t.Errorf("expected a uuid request id, got %q", generated)
	}
	if !strings.Contains(w.Body.String(), generated) {
		t.Error("request id not stored in context")
	}

	req := httptest.NewRequest(http.MethodGet, "/c-haines/GDPS/echo", nil)
	req.Header.Set("X-Request-Id", "client-supplied")
	if got := serve(srv, req).Header().Get("X-Request-Id"); got != "client-supplied" {
		t.Errorf("X-Request-Id = %q", got)
	}
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestRoutes_PanicRecovered(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), string(types.ErrCodeInternalUnexpected)) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRoutes_ContextDeadline(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{RequestTimeout: time.Second}, nil)
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/deadline", nil)); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestRoutes_CORS(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{CorsAllowedOrigins: []string{"https://psu.nrs.gov.bc.ca"}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/c-haines/GDPS/echo", nil)
	req.Header.Set("Origin", "https://psu.nrs.gov.bc.ca")
	w := serve(srv, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://psu.nrs.gov.bc.ca" {
		t.Errorf("Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Error("expected Vary: Origin")
	}

	req = httptest.NewRequest(http.MethodGet, "/c-haines/GDPS/echo", nil)
	req.Header.Set("Origin", "https://evil.example")
	if got := serve(srv, req).Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin allowed: %q", got)
	}
}

func TestRoutes_CORSWildcardDefault(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anything.example")
	if got := serve(srv, req).Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestRoutes_MetricsByRoutePattern(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	serve(srv, httptest.NewRequest(http.MethodGet, "/c-haines/GDPS/echo", nil))
	serve(srv, httptest.NewRequest(http.MethodGet, "/c-haines/RDPS/echo", nil))
	serve(srv, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(srv.Metrics.HTTPRequests.WithLabelValues("/c-haines/{model}/echo", "200")); got != 2 {
		t.Errorf("expected 2 requests on the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(srv.Metrics.HTTPRequests.WithLabelValues("unmatched", "404")); got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
}

func TestRoutes_MetricsEndpoint(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	srv.Metrics.RecordUnit(types.ModelGDPS, types.UnitStored)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `wps_chaines_units_total{model="GDPS",state="stored"} 1`) {
		t.Errorf("metrics output missing unit counter:\n%s", w.Body.String())
	}
}

func TestRoutes_GzipCompression(t *testing.T) {
	srv := newTestServerForRoutes(t, config.ServerConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(srv, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers: %v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	if len(body) != len(`{"severity":1}`)*1000 {
		t.Errorf("decompressed length = %d", len(body))
	}
}

func TestRoutes_RequestLoggerRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	srv := newTestServerForRoutes(t, config.ServerConfig{}, logger)

	req := httptest.NewRequest(http.MethodGet, "/c-haines/GDPS/echo", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	serve(srv, req)

	out := buf.String()
	if strings.Contains(out, "secret-token") {
		t.Error("authorization header leaked into logs")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected redaction marker in logs")
	}
	if !strings.Contains(out, `"status":200`) {
		t.Errorf("expected status in log line: %s", out)
	}
}

func TestContextTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	h := ContextTimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))

	if remaining := time.Until(deadline); remaining > 50*time.Millisecond {
		t.Errorf("deadline too far in the future: %v", remaining)
	}
}
