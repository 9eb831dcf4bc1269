// Package main is the entry point of the C-Haines severity poller.
//
// Inside AWS Lambda it is invoked on a schedule with a scheduler.PollInput
// payload. Elsewhere it performs a single poll configured by flags and exits,
// which is how it runs from cron or a container job.
//
// This file only wires dependencies; the work happens in
// scheduler.SeverityPoller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/abschwenker/wps/internal/config"
	"github.com/abschwenker/wps/internal/db"
	"github.com/abschwenker/wps/internal/external"
	"github.com/abschwenker/wps/internal/forecasts"
	"github.com/abschwenker/wps/internal/observability"
	"github.com/abschwenker/wps/internal/raster/gdal"
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
	logger.Info("severity poller initializing",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"models", cfg.Datamart.Models,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	client := external.NewBaseClient(external.ClientConfig{
		HTTPClient:  &http.Client{},
		BreakerName: "datamart",
		TripAfter:   cfg.Datamart.BreakerTripAfter,
		Retry: external.RetryPolicy{
			MaxRetries: cfg.Datamart.MaxRetries,
			MinWait:    external.DefaultRetryPolicy().MinWait,
			MaxWait:    external.DefaultRetryPolicy().MaxWait,
		},
		UserAgent: cfg.Datamart.UserAgent,
	})
	downloader := forecasts.NewDownloader(client, cfg.Datamart.DownloadTimeout, logger).
		WithObserver(metrics.ObserveDownload)

	poller := scheduler.NewSeverityPoller(scheduler.SeverityPollerConfig{
		Store:       db.NewSeverityRepository(pool),
		Downloader:  downloader,
		Source:      gdal.NewSource(),
		Projector:   gdal.NewProjector(),
		Models:      cfg.Datamart.Models,
		BaseURL:     cfg.Datamart.BaseURL,
		ScanWorkers: cfg.Pipeline.ScanWorkers,
		TempDir:     cfg.Pipeline.TempDir,
		Metrics:     metrics,
		Logger:      logger,
	})

	reporters := []reporter{}
	if url := cfg.Observability.PushgatewayURL; url != "" {
		job := cfg.Observability.JobName
		reporters = append(reporters, func(ctx context.Context, s scheduler.PollSummary) {
			if err := metrics.Push(ctx, url, job, s.RunID); err != nil {
				logger.WarnContext(ctx, "failed to push metrics", "error", err)
			}
		})
	}
	if ns := cfg.Observability.CloudWatchNamespace; ns != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		publisher := observability.NewCloudWatchPublisher(cloudwatch.NewFromConfig(awsCfg), ns, logger)
		reporters = append(reporters, func(ctx context.Context, s scheduler.PollSummary) {
			publisher.PublishPoll(ctx, s.Units, s.Elapsed)
		})
	}

	handler := newHandler(poller, reporters, logger)

	if isLambdaEnvironment() {
		lambda.Start(handler)
		return nil
	}

	_, err = handler(ctx, input)
	return err
}

// poller is the subset of *scheduler.SeverityPoller the handler needs.
type poller interface {
	Poll(ctx context.Context, input scheduler.PollInput) (scheduler.PollSummary, error)
}

// reporter exports the outcome of one poll.
type reporter func(ctx context.Context, s scheduler.PollSummary)

// newHandler wraps Poll for both Lambda invocations and one-shot runs.
// Reporters run even when Poll fails, so partial progress is visible.
func newHandler(p poller, reporters []reporter, logger *slog.Logger) func(ctx context.Context, input scheduler.PollInput) (scheduler.PollSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input scheduler.PollInput) (scheduler.PollSummary, error) {
		logger.InfoContext(ctx, "severity poller invoked",
			"models", input.Models,
			"run_hours", input.RunHours,
			"limit", input.Limit,
		)

		summary, err := p.Poll(ctx, input)

		// The invocation context may already be cancelled; exporters get a
		// short budget of their own.
		reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		for _, report := range reporters {
			report(reportCtx, summary)
		}

		if err != nil {
			logger.ErrorContext(ctx, "severity poll failed",
				"error", err,
				"stored_before_error", summary.Count(types.UnitStored),
			)
			return summary, fmt.Errorf("severity poller failed: %w", err)
		}
		return summary, nil
	}
}

// parseFlags reads the one-shot options. They mirror the Lambda payload.
func parseFlags(fs *flag.FlagSet, args []string) (scheduler.PollInput, error) {
	var (
		input    scheduler.PollInput
		models   string
		runHours string
	)
	fs.StringVar(&models, "models", "", "Comma-separated models to poll (default: CHAINES_MODELS)")
	fs.StringVar(&runHours, "run-hours", "", "Comma-separated run hours to poll, e.g. 0,12 (default: all)")
	fs.IntVar(&input.Limit, "limit", 0, "Maximum units to download in this run (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return input, err
	}

	for _, raw := range splitList(models) {
		m, ok := types.ParseModel(raw)
		if !ok {
			return input, types.NewAppError(types.ErrCodeConfigUnknownModel, fmt.Sprintf("unknown model %q", raw), nil)
		}
		input.Models = append(input.Models, m)
	}
	for _, raw := range splitList(runHours) {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 0 || h > 23 {
			return input, fmt.Errorf("invalid run hour %q", raw)
		}
		input.RunHours = append(input.RunHours, h)
	}
	if input.Limit < 0 {
		return input, fmt.Errorf("limit must not be negative")
	}
	return input, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
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
