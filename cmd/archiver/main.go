// Package main is the entry point of the C-Haines archiver.
//
// It deletes model runs older than CHAINES_RETENTION together with their
// predictions and polygons. EventBridge invokes it daily inside Lambda with an
// optional scheduler.RetentionInput; elsewhere it runs once and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"github.com/abschwenker/wps/internal/config"
	"github.com/abschwenker/wps/internal/db"
	"github.com/abschwenker/wps/internal/observability"
	"github.com/abschwenker/wps/internal/scheduler"
	"github.com/abschwenker/wps/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	input, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("archiver initializing",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"keep_for", cfg.Retention.KeepFor.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	job := scheduler.NewRetentionJob(db.NewSeverityRepository(pool), nil,
		cfg.Retention.KeepFor, cfg.Retention.BatchLimit, cfg.Retention.MaxBatches, logger)

	var push pushFunc
	if url := cfg.Observability.PushgatewayURL; url != "" {
		push = func(ctx context.Context, runID string) error {
			return metrics.Push(ctx, url, "chaines_archiver", runID)
		}
	}

	handler := newHandler(job, metrics, push, logger)
	if _, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API"); ok {
		lambda.Start(handler)
		return nil
	}
	_, err = handler(ctx, input)
	return err
}

type purger interface {
	Purge(ctx context.Context, input scheduler.RetentionInput) (scheduler.RetentionSummary, error)
}

type pushFunc func(ctx context.Context, runID string) error

// newHandler wraps Purge for Lambda and one-shot runs. Metrics are pushed
// even when Purge fails.
func newHandler(job purger, metrics *observability.Metrics, push pushFunc, logger *slog.Logger) func(context.Context, scheduler.RetentionInput) (scheduler.RetentionSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input scheduler.RetentionInput) (scheduler.RetentionSummary, error) {
		runID := uuid.NewString()
		ctx = types.WithRunID(ctx, runID)
		logger.InfoContext(ctx, "archiver invoked", "run_id", runID, "reference_time", input.ReferenceTime)

		summary, err := job.Purge(ctx, input)
		metrics.RecordPurge(summary.Deleted)

		if push != nil {
			pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if perr := push(pushCtx, runID); perr != nil {
				logger.WarnContext(ctx, "failed to push metrics", "error", perr)
			}
			cancel()
		}

		if err != nil {
			logger.ErrorContext(ctx, "retention failed", "run_id", runID, "deleted_before_error", summary.Deleted, "error", err)
			return summary, fmt.Errorf("archiver failed: %w", err)
		}
		return summary, nil
	}
}

// parseFlags reads -reference-time for manual backfills.
func parseFlags(fs *flag.FlagSet, args []string) (scheduler.RetentionInput, error) {
	var input scheduler.RetentionInput
	var ref string
	fs.StringVar(&ref, "reference-time", "", "RFC3339 time to measure retention from (default: now)")
	if err := fs.Parse(args); err != nil {
		return input, err
	}
	if ref != "" {
		t, err := time.Parse(time.RFC3339, ref)
		if err != nil {
			return input, fmt.Errorf("invalid -reference-time %q: %w", ref, err)
		}
		input.ReferenceTime = t
	}
	return input, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
