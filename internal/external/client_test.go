package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abschwenker/wps/internal/types"
)

func noopSleep(context.Context, time.Duration) error { return nil }

func newTestClient(policy RetryPolicy) *BaseClient {
	return NewBaseClient(ClientConfig{
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
		BreakerName: "test-datamart",
		Retry:       policy,
		UserAgent:   "wps-test/1.0",
		Sleep:       noopSleep,
	})
}

func get(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func TestDo_Success(t *testing.T) {
	var gotUA, gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := types.WithRunID(context.Background(), "run-1")
	resp, err := newTestClient(DefaultRetryPolicy()).Do(get(t, ctx, server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if gotUA != "wps-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotID != "run-1" {
		t.Errorf("X-Request-Id = %q", gotID)
	}
}

func TestDo_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := newTestClient(RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond}).
		Do(get(t, context.Background(), server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestDo_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond}).
		Do(get(t, context.Background(), server.URL))
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestDo_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond}).
		Do(get(t, context.Background(), server.URL))
	if !types.HasCode(err, types.ErrCodeUpstreamRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestDo_NotFoundReturnedAsResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	resp, err := newTestClient(DefaultRetryPolicy()).Do(get(t, context.Background(), server.URL))
	if err != nil {
		t.Fatalf("404 should not be an error from Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls.Load())
	}
}

func TestDo_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewBaseClient(ClientConfig{
		BreakerName: "trip-test",
		TripAfter:   2,
		Retry:       RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		Sleep:       noopSleep,
	})

	for i := 0; i < 2; i++ {
		_, _ = client.Do(get(t, context.Background(), server.URL))
	}
	_, err := client.Do(get(t, context.Background(), server.URL))
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected breaker error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("open breaker must not reach the server, got %d calls", calls.Load())
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(RetryPolicy{MaxRetries: 0}).Do(get(t, context.Background(), url))
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamForecast {
		t.Errorf("code = %s", appErr.Code)
	}
}

func TestDo_SleepCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewBaseClient(ClientConfig{
		BreakerName: "cancel-test",
		Retry:       RetryPolicy{MaxRetries: 5, MinWait: time.Hour, MaxWait: time.Hour},
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepContext(ctx, d)
		},
	})

	_, err := client.Do(get(t, ctx, server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestBackoff_Bounds(t *testing.T) {
	c := newTestClient(RetryPolicy{MaxRetries: 3, MinWait: 10 * time.Millisecond, MaxWait: 40 * time.Millisecond})
	for attempt := 0; attempt < 6; attempt++ {
		d := c.backoff(attempt, nil)
		if d < 10*time.Millisecond || d > 40*time.Millisecond {
			t.Errorf("attempt %d: backoff %v out of bounds", attempt, d)
		}
	}

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
	if d := c.backoff(0, resp); d != 40*time.Millisecond {
		t.Errorf("Retry-After should be capped by MaxWait, got %v", d)
	}
}
