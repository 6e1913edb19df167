package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/migrate"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox/registry"
	"github.com/angelmondragon/freightlane-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, ".env file not found, relying on environment")
	}
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceKind,
		Short:         "Publish committed outbox events to Pub/Sub",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logg, err := boot()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

			if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
				return err
			}
			logg.Info(ctx, "outbox publisher shut down")
			return nil
		},
	}
	root.AddCommand(dlqCommand())
	return root
}

func boot() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind
	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	return cfg, logg, nil
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer pubsubClient.Close()

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}

	relay, err := NewRelay(RelayParams{
		Outbox:      cfg.Outbox,
		Logger:      logg,
		DB:          dbClient,
		Publishers:  pubsubClient,
		Events:      outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Registry:    events,
		Metrics:     metrics.NewEngineMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting outbox publisher")
	return relay.Run(ctx)
}
