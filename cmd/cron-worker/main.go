package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shiftpay-backend/internal/bootstrap"
	"github.com/angelmondragon/shiftpay-backend/internal/cron"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/instance"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/metrics"
	"github.com/angelmondragon/shiftpay-backend/pkg/migrate"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	settlementService, err := bootstrap.Settlement(bootstrap.SettlementParams{
		Config:  cfg,
		DB:      dbClient,
		Logger:  logg,
		Metrics: metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire settlement service", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, settlementService)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.RedisLocks(redisClient, cfg.Cron.LockTTL),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        len(registry.Entries()),
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svc settlement.Service) (*cron.Registry, error) {
	params := cron.SettlementJobParams{Logger: logg, Settlement: svc}
	constructors := []struct {
		schedule string
		build    func(cron.SettlementJobParams) (cron.Job, error)
	}{
		{cfg.Cron.ReleaseSchedule, cron.NewEscrowReleaseJob},
		{cfg.Cron.SLASchedule, cron.NewDisputeSLAJob},
		{cfg.Cron.DispatchSchedule, cron.NewPayoutDispatchJob},
		{cfg.Cron.RetrySchedule, cron.NewPayoutRetryJob},
		{cfg.Cron.SweepSchedule, cron.NewPayoutStaleSweepJob},
	}

	registry := cron.NewRegistry()
	for _, c := range constructors {
		job, err := c.build(params)
		if err != nil {
			return nil, err
		}
		registry.Register(c.schedule, job)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Events:      outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Config:      cfg.Outbox,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(cfg.Cron.RetentionSchedule, retention)
	return registry, nil
}
