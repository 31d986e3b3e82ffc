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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/groupbuyhq/fulfillment-backend/internal/identity"
	"github.com/groupbuyhq/fulfillment-backend/internal/notify"
	"github.com/groupbuyhq/fulfillment-backend/pkg/config"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/metrics"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
	"github.com/groupbuyhq/fulfillment-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notify-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "notify-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var resolver identity.Resolver
	if cfg.Identity.BaseURL != "" {
		resolver, err = identity.NewHTTPResolver(cfg.Identity.BaseURL, cfg.Identity.Timeout)
		if err != nil {
			logg.Error(ctx, "failed to build identity resolver", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(ctx, "identity service not configured, treating all recipients as deliverable")
		resolver = identity.StaticResolver{}
	}

	var transport notify.Transport
	if cfg.Notify.DeliveryURL != "" {
		transport, err = notify.NewWebhookTransport(cfg.Notify.DeliveryURL, cfg.Notify.DeliveryTimeout)
		if err != nil {
			logg.Error(ctx, "failed to build delivery transport", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(ctx, "delivery gateway not configured, notifications will only be logged")
		transport = notify.LogTransport{Logger: logg}
	}

	notifySvc := notify.NewService(notify.ServiceParams{
		Repo:      notify.NewRepository(dbClient.DB()),
		Store:     redisClient,
		Resolver:  resolver,
		Transport: transport,
		Config:    cfg.Notify,
		Logger:    logg,
	})

	dispatcher, err := outbox.NewDispatcher(outbox.NewRepository(dbClient.DB()), cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts, logg, notifySvc)
	if err != nil {
		logg.Error(ctx, "failed to build outbox dispatcher", err)
		os.Exit(1)
	}

	lock, err := notify.NewRedisLock(redisClient, redisClient.WorkerLockKey("notify"), cfg.Notify.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to build worker lock", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	worker, err := notify.NewWorker(notify.WorkerParams{
		Logger:     logg,
		Service:    notifySvc,
		Dispatcher: dispatcher,
		Lock:       lock,
		Metrics:    metrics.NewWorkerMetrics(registry),
		Interval:   cfg.Notify.PollInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to build notification worker", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(groupCtx, "starting notification worker")
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "notification worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "notification worker shut down cleanly")
}
