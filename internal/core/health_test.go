package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abschwenker/wps/internal/config"
)

type mockHealthProbe struct {
	name     string
	checkErr error
	delay    time.Duration
	panics   bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	if m.panics {
		panic("boom")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv, _ := NewServer(config.ServerConfig{}, discardLogger())
	srv.HealthProbes = probes
	srv.Version = "1.2.3"

	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	return w.Code, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, body := runHealth(t)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body.Status != "healthy" || body.Version != "1.2.3" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, body := runHealth(t,
		&mockHealthProbe{name: "database"},
		PingProbe{Component: "cache", Ping: func(context.Context) error { return nil }},
	)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	for _, name := range []string{"database", "cache"} {
		if body.Components[name].Status != "healthy" {
			t.Errorf("%s: expected healthy, got %+v", name, body.Components[name])
		}
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	code, body := runHealth(t,
		&mockHealthProbe{name: "database", checkErr: errors.New("connection refused")},
		&mockHealthProbe{name: "other"},
	)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", body.Status)
	}
	if body.Components["database"].Message != "connection refused" {
		t.Errorf("unexpected message %q", body.Components["database"].Message)
	}
	if body.Components["other"].Status != "healthy" {
		t.Errorf("other probe should be healthy")
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	start := time.Now()
	code, body := runHealth(t, &mockHealthProbe{name: "slow", delay: time.Minute})
	if time.Since(start) > 5*time.Second {
		t.Fatal("health check did not respect its deadline")
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body.Components["slow"].Status != "unhealthy" {
		t.Errorf("slow probe should be unhealthy, got %+v", body.Components["slow"])
	}
}

func TestHandleHealth_ProbePanic(t *testing.T) {
	code, body := runHealth(t, &mockHealthProbe{name: "flaky", panics: true})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body.Components["flaky"].Message != "probe panicked: boom" {
		t.Errorf("unexpected message %q", body.Components["flaky"].Message)
	}
}
