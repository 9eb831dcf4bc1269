// Package main is the entry point of the read-side C-Haines API.
//
// It serves stored model runs and severity polygons as JSON, GeoJSON and KML
// over plain HTTP, with graceful shutdown on SIGINT and SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abschwenker/wps/internal/api/handlers"
	"github.com/abschwenker/wps/internal/config"
	"github.com/abschwenker/wps/internal/core"
	"github.com/abschwenker/wps/internal/db"
	"github.com/abschwenker/wps/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("c-haines API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, handlers.NewChainesHandler(db.NewSeverityRepository(pool), nil, logger),
		core.PingProbe{Component: "database", Ping: pool.Ping}, logger)
	if err != nil {
		pool.Close()
		return err
	}
	srv.Metrics = observability.NewMetrics()
	srv.OnShutdown(pool.Close)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg.Server, logger)
}

// buildServer assembles the server without mounting routes, so tests can
// swap the metrics registry first.
func buildServer(cfg *config.Config, chaines *handlers.ChainesHandler, probe core.HealthProbe, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg.Server, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Version = cfg.Build.Version
	srv.Registrars = append(srv.Registrars, chaines.RegisterRoutes)
	if probe != nil {
		srv.HealthProbes = append(srv.HealthProbes, probe)
	}
	return srv, nil
}

// runHTTPServer serves until a signal or a listener error, then drains
// in-flight requests for up to ten seconds.
func runHTTPServer(srv *core.Server, cfg config.ServerConfig, logger *slog.Logger) error {
	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
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
