// Package app builds the object graph shared by the HTTP server and the
// scheduled poller: database pool, repositories, upstream clients, push
// dispatcher and poll runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tubenotify/internal/config"
	"tubenotify/internal/db"
	"tubenotify/internal/external"
	"tubenotify/internal/notifications/push"
	"tubenotify/internal/scheduler"
)

// App holds the wired components. Close releases the pool and Redis client.
type App struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Devices       *db.DeviceRepository
	Videos        *db.VideoRepository
	Notifications *db.NotificationLogRepository

	VideoBackend *external.PeerTubeClient
	Expo         *external.ExpoClient
	Dispatcher   *push.Dispatcher
	Poller       *scheduler.VideoPoller
	Runner       *scheduler.Runner
}

// New connects to Postgres (and Redis when configured), creates the schema
// if AutoMigrate is set and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, err
	}
	a := &App{Pool: pool}

	if cfg.Database.AutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
		logger.Info("database schema ready")
	}

	a.Devices = db.NewDeviceRepository(pool)
	a.Videos = db.NewVideoRepository(pool)
	a.Notifications = db.NewNotificationLogRepository(pool)

	a.VideoBackend = external.NewPeerTubeClient(
		&http.Client{Timeout: cfg.VideoBackend.Timeout},
		external.PeerTubeConfig{
			BaseURL:      cfg.VideoBackend.BaseURL(),
			ClientID:     cfg.VideoBackend.ClientID,
			ClientSecret: cfg.VideoBackend.ClientSecret,
			Username:     cfg.VideoBackend.Username,
			Password:     cfg.VideoBackend.Password,
			Logger:       logger,
		},
	)
	a.Expo = external.NewExpoClient(
		&http.Client{Timeout: cfg.Push.Timeout},
		external.ExpoConfig{
			URL:         cfg.Push.APIURL,
			AccessToken: cfg.Push.AccessToken,
			Logger:      logger,
		},
	)

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher = push.NewDispatcher(push.DispatcherConfig{
		Devices: a.Devices,
		Logs:    a.Notifications,
		Gateway: a.Expo,
		Metrics: metrics,
		Logger:  logger,
	})
	a.Poller = scheduler.NewVideoPoller(scheduler.VideoPollerConfig{
		Source:     a.VideoBackend,
		Ledger:     a.Videos,
		Notifier:   a.Dispatcher,
		Backend:    cfg.VideoBackend.Host,
		VideoCount: cfg.Poll.VideoCount,
		Logger:     logger,
	})

	runnerCfg := scheduler.RunnerConfig{
		Checker:      a.Poller,
		Interval:     cfg.Poll.Interval(),
		StartupDelay: cfg.Poll.StartupDelay,
		CycleTimeout: cfg.Poll.CycleTimeout,
		Logger:       logger,
	}
	if !cfg.Redis.URL.IsEmpty() {
		client, err := newRedis(ctx, cfg.Redis.URL.Unmask())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		runnerCfg.Lock = scheduler.NewRedisLock(client, scheduler.PollLockKey)
		logger.Info("shared poll lock enabled")
	}
	a.Runner = scheduler.NewRunner(runnerCfg)

	return a, nil
}

// Close releases the connections. It is safe on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.Metrics, error) {
	if !cfg.Observability.EnableCloudWatch {
		return push.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = &cfg.AWS.EndpointURL
		}
	})
	return push.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}
