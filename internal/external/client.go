// Package external wraps outbound HTTP with circuit breaking and retries so
// a flaky Datamart mirror degrades into per-unit download failures instead of
// a stalled poll.
package external

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/abschwenker/wps/internal/types"
)

// RetryPolicy configures retries on 429 and 5xx responses.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy suits the Datamart, which publishes files gradually and
// answers 5xx under load.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    time.Second,
		MaxWait:    15 * time.Second,
	}
}

// ClientConfig holds the settings for a BaseClient.
type ClientConfig struct {
	HTTPClient  *http.Client
	BreakerName string
	// TripAfter is the number of consecutive failures that opens the
	// breaker. Zero means 5.
	TripAfter   uint32
	Retry       RetryPolicy
	UserAgent   string
	// Sleep waits between retries. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// BaseClient executes GET-style requests through a circuit breaker.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewBaseClient creates a BaseClient from cfg.
func NewBaseClient(cfg ClientConfig) *BaseClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	trip := cfg.TripAfter
	if trip == 0 {
		trip = 5
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
	})

	return &BaseClient{
		client:    httpClient,
		breaker:   cb,
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
		sleep:     sleep,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do sends req, retrying 429 and 5xx responses. Any other response,
// including 404, is returned to the caller, who must close the body. Bodies
// are not replayed, so req must not carry one.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if id := types.GetRunID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts-1 {
			if serr := c.sleep(ctx, c.backoff(attempt, resp)); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, mapError(lastResp, lastErr)
}

// backoff honours Retry-After in seconds, otherwise uses exponential backoff
// with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			return min(time.Duration(s)*time.Second, c.retry.MaxWait)
		}
	}
	ceiling := math.Min(float64(c.retry.MinWait)*math.Pow(2, float64(attempt)), float64(c.retry.MaxWait))
	floor := float64(c.retry.MinWait)
	if ceiling <= floor {
		return c.retry.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

func mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open", err)
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamForecast, "upstream request failed", err)
}
