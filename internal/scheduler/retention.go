package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// RunPurger deletes old model runs in bounded batches.
// *db.SeverityRepository implements it.
type RunPurger interface {
	DeleteModelRunsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// RetentionInput is the payload of one retention invocation. ReferenceTime
// replaces the clock for manual backfills; zero means now.
type RetentionInput struct {
	ReferenceTime time.Time `json:"reference_time"`
}

// RetentionSummary reports what one Purge removed.
type RetentionSummary struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
	Batches int       `json:"batches"`
}

// RetentionJob removes model runs, and through the cascade their predictions
// and polygons, once they are older than KeepFor.
type RetentionJob struct {
	store      RunPurger
	clock      clockwork.Clock
	keepFor    time.Duration
	batchLimit int
	maxBatches int
	logger     *slog.Logger
}

// NewRetentionJob creates a RetentionJob. A nil clock uses the real one.
func NewRetentionJob(store RunPurger, clock clockwork.Clock, keepFor time.Duration, batchLimit, maxBatches int, logger *slog.Logger) *RetentionJob {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchLimit < 1 {
		batchLimit = 1
	}
	if maxBatches < 1 {
		maxBatches = 1
	}
	return &RetentionJob{
		store:      store,
		clock:      clock,
		keepFor:    keepFor,
		batchLimit: batchLimit,
		maxBatches: maxBatches,
		logger:     logger,
	}
}

// Purge deletes batches until one comes back short or maxBatches is reached.
// Whatever is left is picked up by the next run.
func (j *RetentionJob) Purge(ctx context.Context, input RetentionInput) (RetentionSummary, error) {
	now := input.ReferenceTime
	if now.IsZero() {
		now = j.clock.Now()
	}
	summary := RetentionSummary{Cutoff: now.UTC().Add(-j.keepFor)}

	for summary.Batches < j.maxBatches {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		n, err := j.store.DeleteModelRunsBefore(ctx, summary.Cutoff, j.batchLimit)
		if err != nil {
			return summary, fmt.Errorf("deleting model runs before %s: %w", summary.Cutoff.Format(time.RFC3339), err)
		}
		summary.Batches++
		summary.Deleted += n
		if n < int64(j.batchLimit) {
			break
		}
	}

	if summary.Deleted > 0 {
		j.logger.InfoContext(ctx, "purged expired model runs",
			"deleted", summary.Deleted,
			"batches", summary.Batches,
			"cutoff", summary.Cutoff.Format(time.RFC3339),
		)
	} else {
		j.logger.InfoContext(ctx, "no expired model runs to purge",
			"cutoff", summary.Cutoff.Format(time.RFC3339))
	}
	return summary, nil
}
