// Package main is the entry point for the scheduled poller Lambda.
//
// An EventBridge rule invokes it on the poll interval. Each invocation runs
// one new-video check through the same runner the API server uses, so the
// Redis lock keeps it from overlapping with an in-process ticker or an admin
// triggered check.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"tubenotify/internal/app"
	"tubenotify/internal/config"
	"tubenotify/internal/scheduler"
	"tubenotify/internal/types"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("poller Lambda initializing (cold start)")

	// DATABASE_URL and the backend credentials live in SSM outside local mode.
	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire dependencies", "error", err)
		os.Exit(1)
	}

	logger.Info("poller Lambda initialized",
		"video_backend", cfg.VideoBackend.Host,
		"video_count", cfg.Poll.VideoCount,
		"shared_lock", a.Redis != nil,
	)

	lambda.Start(newHandler(a.Runner, logger))
}

// PollRunner is the part of scheduler.Runner the handler calls.
type PollRunner interface {
	RunOnce(ctx context.Context) (scheduler.CheckResult, error)
}

// newHandler runs one poll cycle per scheduled event. A cycle already held
// by another process is not an error: the next event retries.
func newHandler(runner PollRunner, logger *slog.Logger) func(ctx context.Context, event events.CloudWatchEvent) (scheduler.CheckResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, event events.CloudWatchEvent) (scheduler.CheckResult, error) {
		logger.InfoContext(ctx, "poller invoked",
			"event_id", event.ID,
			"source", event.Source,
			"scheduled_at", event.Time,
		)

		ctx = types.WithPollTrigger(ctx, types.TriggerLambda)
		res, err := runner.RunOnce(ctx)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictPollInProgress {
				logger.InfoContext(ctx, "poll skipped, another check holds the lock")
				return scheduler.CheckResult{}, nil
			}
			logger.ErrorContext(ctx, "poll failed", "error", err)
			return scheduler.CheckResult{}, fmt.Errorf("poll failed: %w", err)
		}

		logger.InfoContext(ctx, "poll complete",
			"fetched", res.Fetched,
			"candidates", res.Candidates,
			"notified", res.Notified,
			"failed", res.Failed,
		)
		return res, nil
	}
}
