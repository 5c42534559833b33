// Package main is the entry point for the TubeNotify API server.
//
// It loads configuration, wires the database, upstream clients, push
// dispatcher and poll runner, mounts the device and admin routes on the core
// chassis and serves HTTP until SIGINT or SIGTERM. When polling is enabled
// the new-video check also runs in-process on a ticker.
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

	"tubenotify/internal/api/handlers"
	"tubenotify/internal/app"
	"tubenotify/internal/config"
	"tubenotify/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := checkTimeouts(cfg); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("tubenotify API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"video_backend", cfg.VideoBackend.Host,
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}

	srv, err := newServer(cfg, logger, a)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	if cfg.Poll.Enabled {
		logger.Info("video polling enabled",
			"interval", cfg.Poll.Interval().String(),
			"startup_delay", cfg.Poll.StartupDelay.String(),
		)
		go a.Runner.Start(pollCtx)
	} else {
		logger.Info("video polling disabled")
	}

	return runHTTPServer(srv, cfg, logger, stopPolling)
}

// newServer builds the HTTP chassis and mounts the handlers on it.
func newServer(cfg *config.Config, logger *slog.Logger, a *app.App) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	deviceHandler := handlers.NewDeviceHandler(a.Devices, srv.Validator, logger)
	adminHandler := handlers.NewAdminHandler(handlers.AdminHandlerConfig{
		Notifier:       a.Dispatcher,
		Poller:         a.Runner,
		Devices:        a.Devices,
		Notifications:  a.Notifications,
		Videos:         a.Videos,
		DefaultBackend: cfg.VideoBackend.Host,
		Validator:      srv.Validator,
		Logger:         logger,
	})
	srv.DeviceRoutes = append(srv.DeviceRoutes, deviceHandler.RegisterRoutes)
	srv.AdminRoutes = append(srv.AdminRoutes, adminHandler.RegisterRoutes)

	srv.HealthProbes = append(srv.HealthProbes, core.PingProbe{ProbeName: "database", Ping: a.Pool.Ping})
	if a.Redis != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.PingProbe{
			ProbeName: "redis",
			Ping: func(ctx context.Context) error {
				return a.Redis.Ping(ctx).Err()
			},
		})
	}
	srv.Closers = append(srv.Closers, a.Close)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until a shutdown signal or a listener error, then
// stops the poll loop, drains in-flight requests and releases resources.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger, stopPolling context.CancelFunc) error {
	addr := ":" + cfg.Server.Port

	// check-videos waits for a full poll cycle, so writes outlast the
	// request deadline rather than the read timeout.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      core.RequestTimeout + 30*time.Second,
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

	var listenErr error
	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			listenErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return errors.Join(listenErr, fmt.Errorf("server shutdown: %w", err))
	}
	if listenErr != nil {
		return listenErr
	}

	logger.Info("server stopped cleanly")
	return nil
}

// checkTimeouts rejects a poll cycle timeout that an admin check-videos
// request could not wait out.
func checkTimeouts(cfg *config.Config) error {
	cycle := cfg.Poll.CycleTimeout
	if cycle <= 0 || cycle >= core.RequestTimeout {
		return fmt.Errorf("POLL_CYCLE_TIMEOUT must be positive and below the %s request timeout, got %s",
			core.RequestTimeout, cycle)
	}
	return nil
}

// newLogger creates a JSON slog.Logger on stdout at the given level.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
