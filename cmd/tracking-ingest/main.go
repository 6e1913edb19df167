package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/instance"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/redis"
)

const (
	handleTimeout   = 5 * time.Second
	disconnectQuiet = 250 // milliseconds
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "tracking-ingest"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "tracking-ingest"

	logg = logger.New(logger.Options{
		ServiceName: "tracking-ingest",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

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

	ingestor, err := tracking.NewIngestor(tracking.IngestorParams{
		Live:         tracking.NewRedisLiveStore(redisClient),
		SampleTTL:    cfg.Tracking.SampleTTL,
		MaxClockSkew: cfg.Tracking.MaxClockSkew,
		Metrics:      metrics.NewEngineMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ingestor", err)
		os.Exit(1)
	}
	handler, err := newSampleHandler(cfg.Tracking.MQTTTopic, ingestor, logg)
	if err != nil {
		logg.Error(context.Background(), "invalid mqtt topic", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topic":       cfg.Tracking.MQTTTopic,
	})

	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		msgCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()
		if err := handler.handle(msgCtx, msg.Topic(), msg.Payload()); err != nil {
			msgCtx = logg.WithField(msgCtx, "mqtt_topic", msg.Topic())
			if pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
				logg.Error(msgCtx, "location sample not stored", err)
				return
			}
			logg.Warn(logg.WithField(msgCtx, "error", err.Error()), "location sample rejected")
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Tracking.MQTTBrokerURL).
		SetClientID(cfg.Tracking.MQTTClientID+"-"+instance.GetID()).
		SetUsername(cfg.Tracking.MQTTUsername).
		SetPassword(cfg.Tracking.MQTTPassword).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions are renewed on every (re)connect.
			token := c.Subscribe(cfg.Tracking.MQTTTopic, byte(cfg.Tracking.MQTTQoS), onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				logg.Error(ctx, "mqtt subscribe failed", err)
				return
			}
			logg.Info(ctx, "subscribed to driver locations")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "mqtt connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		logg.Error(ctx, "mqtt connect failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "tracking ingest started")

	if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer); err != nil {
		logg.Error(ctx, "metrics listener stopped", err)
		stop()
	}
	<-ctx.Done()
	client.Disconnect(disconnectQuiet)
	logg.Info(ctx, "tracking ingest shutting down gracefully")
}
