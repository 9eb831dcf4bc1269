package forecasts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/abschwenker/wps/internal/types"
)

// Doer sends an HTTP request. *external.BaseClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader fetches Datamart files into a local directory.
type Downloader struct {
	client  Doer
	logger  *slog.Logger
	timeout time.Duration
	// observe receives the duration of every completed download.
	observe func(model types.ModelAbbrev, d time.Duration)
}

// NewDownloader creates a Downloader. A zero timeout means no per-file
// deadline beyond the caller's context.
func NewDownloader(client Doer, timeout time.Duration, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, logger: logger, timeout: timeout}
}

// WithObserver sets a hook called with the duration of each successful
// download.
func (d *Downloader) WithObserver(fn func(model types.ModelAbbrev, d time.Duration)) *Downloader {
	d.observe = fn
	return d
}

// Download saves url into dir under its base name and returns the local
// path. The file only appears once fully written, so a failed transfer never
// leaves a truncated GRIB behind. A 404 is reported as
// ErrCodeUpstreamNotFound: the Datamart publishes hours gradually and a
// missing file is the normal "not yet" signal.
func (d *Downloader) Download(ctx context.Context, model types.ModelAbbrev, url, dir string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamForecast, "invalid download url", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", types.NewAppError(types.ErrCodeUpstreamNotFound,
			fmt.Sprintf("%s not published", path.Base(url)), nil)
	case resp.StatusCode != http.StatusOK:
		return "", types.NewAppError(types.ErrCodeUpstreamForecast,
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, path.Base(url)), nil)
	}

	target := filepath.Join(dir, path.Base(req.URL.Path))
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", types.NewAppError(types.ErrCodeUpstreamForecast,
			fmt.Sprintf("reading %s", path.Base(url)), copyErr)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("moving download into place: %w", err)
	}

	elapsed := time.Since(start)
	if d.observe != nil {
		d.observe(model, elapsed)
	}
	d.logger.DebugContext(ctx, "downloaded file",
		"model", model,
		"file", filepath.Base(target),
		"bytes", n,
		"duration_ms", elapsed.Milliseconds(),
	)
	return target, nil
}
