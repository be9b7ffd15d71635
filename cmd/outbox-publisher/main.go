package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/migrate"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/shiftpay-backend/pkg/pubsub"
	"github.com/angelmondragon/shiftpay-backend/pkg/rabbitmq"
	"github.com/angelmondragon/shiftpay-backend/pkg/redis"
)

type closableTransport interface {
	transport
	io.Closer
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	bus, transportName, topic, err := newTransport(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap event transport", err)
		os.Exit(1)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logg.Error(context.Background(), "error closing event transport", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(topic)
	if err != nil {
		logg.Error(ctx, "failed to build event registry", err)
		os.Exit(1)
	}

	params := ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Transport:     bus,
		TransportName: transportName,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	}

	// The delivery guard is best effort; the publisher still runs without redis.
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis unavailable, publishing without delivery guard")
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		guard, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
		if err != nil {
			logg.Error(ctx, "failed to build delivery guard", err)
			os.Exit(1)
		}
		params.Guard = guard
	}

	service, err := NewService(params)
	if err != nil {
		logg.Error(ctx, "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
		"transport":   transportName,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

// newTransport returns the configured broker, its name, and the topic or
// exchange every settlement event is routed to.
func newTransport(ctx context.Context, cfg *config.Config, logg *logger.Logger) (closableTransport, string, string, error) {
	switch strings.ToLower(cfg.Eventing.Transport) {
	case config.TransportRabbitMQ:
		pub, err := rabbitmq.NewPublisher(ctx, cfg.RabbitMQ, logg)
		if err != nil {
			return nil, "", "", err
		}
		return pub, rabbitmq.TransportName, cfg.RabbitMQ.Exchange, nil
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, "", "", err
		}
		return client, pubsub.TransportName, cfg.PubSub.SettlementTopic, nil
	default:
		return nil, "", "", fmt.Errorf("unsupported event transport %q", cfg.Eventing.Transport)
	}
}
