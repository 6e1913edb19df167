package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/freightlane-backend/api"
	"github.com/angelmondragon/freightlane-backend/api/routes"
	"github.com/angelmondragon/freightlane-backend/internal/assignments"
	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	"github.com/angelmondragon/freightlane-backend/internal/notifications"
	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	"github.com/angelmondragon/freightlane-backend/internal/trips"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/migrate"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
	"github.com/angelmondragon/freightlane-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngineMetrics(registry)

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient, engineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	deps.Metrics = registry

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	server := api.NewServer(cfg, logg, deps)
	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api listening on :"+cfg.App.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api graceful shutdown failed", err)
		}
	}
	logg.Info(ctx, "api shutting down gracefully")
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, engineMetrics *metrics.EngineMetrics) (routes.Dependencies, error) {
	gormDB := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)
	ledger := capacity.NewLedger(gormDB)

	notificationService, err := notifications.NewService(notifications.NewRepository(gormDB), logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	floors, err := cfg.Allocation.Floors()
	if err != nil {
		return routes.Dependencies{}, err
	}
	assignmentRepo := assignments.NewRepository(gormDB)
	assignmentService, err := assignments.NewService(assignments.ServiceParams{
		Repository:      assignmentRepo,
		DB:              dbClient,
		Ledger:          ledger,
		Outbox:          outboxService,
		Notifier:        notificationService,
		Eligibility:     assignments.NewDriverEligibility(),
		Rules:           []assignments.AdmissionRule{assignments.NewPriceFloorRule(floors)},
		Capability:      assignments.ActiveLimit(assignmentRepo, cfg.Allocation.MaxActivePerDriver, cfg.Allocation.MaxActivePerCompany),
		MaxCompanySlots: cfg.Allocation.MaxCompanySlots,
		Metrics:         engineMetrics,
		Logger:          logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	tripService, err := trips.NewService(trips.ServiceParams{
		Repository:         trips.NewRepository(gormDB),
		DB:                 dbClient,
		Ledger:             ledger,
		Outbox:             outboxService,
		Notifier:           notificationService,
		ConfirmationWindow: cfg.Trips.ConfirmationWindow,
		TransitionTimeout:  cfg.Trips.TransitionTimeout,
		ContentionBackoff:  cfg.Trips.ContentionBackoff,
		ContentionAttempts: cfg.Trips.ContentionAttempts,
		MirrorLegacyStatus: cfg.FeatureFlags.MirrorLegacyTripStatus,
		Metrics:            engineMetrics,
		Logger:             logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	live := tracking.NewRedisLiveStore(redisClient)
	trackingRepo := tracking.NewRepository(gormDB)
	coordinator, err := tracking.NewCoordinator(tracking.CoordinatorParams{
		Repository:       trackingRepo,
		Live:             live,
		Resolver:         tracking.NewDefaultChain(trackingRepo, live, cfg.Tracking.OnlineThreshold, logg),
		OnlineThreshold:  cfg.Tracking.OnlineThreshold,
		CoalesceInterval: cfg.Tracking.CoalesceInterval,
		TickInterval:     cfg.Tracking.TickInterval,
		PollInterval:     cfg.Tracking.PollInterval,
		Metrics:          engineMetrics,
		Logger:           logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}
	ingestor, err := tracking.NewIngestor(tracking.IngestorParams{
		Live:         live,
		SampleTTL:    cfg.Tracking.SampleTTL,
		MaxClockSkew: cfg.Tracking.MaxClockSkew,
		Metrics:      engineMetrics,
		Logger:       logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:            dbClient,
		Redis:         redisClient,
		Idempotency:   redisClient,
		Ledger:        ledger,
		Assignments:   assignmentService,
		Trips:         tripService,
		Notifications: notificationService,
		Tracking:      coordinator,
		Ingestor:      ingestor,
	}, nil
}
