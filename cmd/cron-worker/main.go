package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	"github.com/angelmondragon/freightlane-backend/internal/cron"
	"github.com/angelmondragon/freightlane-backend/internal/notifications"
	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	"github.com/angelmondragon/freightlane-backend/internal/trips"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/instance"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/migrate"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
	"github.com/angelmondragon/freightlane-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind, "instance": instance.GetID()})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	gormDB := dbClient.DB()
	outboxRepo := outbox.NewRepository(gormDB)
	notificationRepo := notifications.NewRepository(gormDB)
	notificationService, err := notifications.NewService(notificationRepo, logg)
	if err != nil {
		return nil, err
	}

	tripService, err := trips.NewService(trips.ServiceParams{
		Repository:         trips.NewRepository(gormDB),
		DB:                 dbClient,
		Ledger:             capacity.NewLedger(gormDB),
		Outbox:             outbox.NewService(outboxRepo, logg),
		Notifier:           notificationService,
		ConfirmationWindow: cfg.Trips.ConfirmationWindow,
		TransitionTimeout:  cfg.Trips.TransitionTimeout,
		ContentionBackoff:  cfg.Trips.ContentionBackoff,
		ContentionAttempts: cfg.Trips.ContentionAttempts,
		MirrorLegacyStatus: cfg.FeatureFlags.MirrorLegacyTripStatus,
		Logger:             logg,
	})
	if err != nil {
		return nil, err
	}

	trackingRepo := tracking.NewRepository(gormDB)
	live := tracking.NewRedisLiveStore(redisClient)

	autoConfirm, err := cron.NewDeliveryAutoConfirmJob(logg, tripService, cfg.Trips.AutoConfirmBatch)
	if err != nil {
		return nil, err
	}
	snapshots, err := cron.NewLocationSnapshotJob(logg,
		tracking.NewSnapshotter(trackingRepo, live, cfg.Tracking.OnlineThreshold, cfg.Cron.SnapshotBatch))
	if err != nil {
		return nil, err
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notificationRepo,
		Retention:  cfg.Cron.NotificationRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	locationRetention, err := cron.NewLocationHistoryRetentionJob(logg, dbClient, cfg.Cron.LocationRetentionDays)
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(autoConfirm, snapshots, notificationCleanup, outboxRetention, locationRetention), nil
}
