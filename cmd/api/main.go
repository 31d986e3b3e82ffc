package main

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/groupbuyhq/fulfillment-backend/api/routes"
	"github.com/groupbuyhq/fulfillment-backend/internal/allocation"
	"github.com/groupbuyhq/fulfillment-backend/internal/fulfillment"
	"github.com/groupbuyhq/fulfillment-backend/internal/orderstatus"
	"github.com/groupbuyhq/fulfillment-backend/internal/shipments"
	"github.com/groupbuyhq/fulfillment-backend/pkg/config"
	"github.com/groupbuyhq/fulfillment-backend/pkg/db"
	"github.com/groupbuyhq/fulfillment-backend/pkg/logger"
	"github.com/groupbuyhq/fulfillment-backend/pkg/migrate"
	"github.com/groupbuyhq/fulfillment-backend/pkg/outbox"
	"github.com/groupbuyhq/fulfillment-backend/pkg/redis"
)

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

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
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

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	allocationSvc, err := allocation.NewService(allocation.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create allocation service", err)
		os.Exit(1)
	}

	statusSvc, err := orderstatus.NewService(orderstatus.NewRepository(dbClient.DB()), dbClient, emitter, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order status service", err)
		os.Exit(1)
	}

	shipmentsSvc, err := shipments.NewService(shipments.NewRepository(dbClient.DB()), dbClient, emitter, statusSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipments service", err)
		os.Exit(1)
	}

	fallbackSellerID := uuid.Nil
	if cfg.Fulfillment.FallbackSellerID != "" {
		fallbackSellerID, err = uuid.Parse(cfg.Fulfillment.FallbackSellerID)
		if err != nil {
			logg.Error(context.Background(), "invalid fallback seller id", err)
			os.Exit(1)
		}
	}

	fulfillmentSvc, err := fulfillment.NewService(fulfillment.ServiceParams{
		Repo:             fulfillment.NewRepository(dbClient.DB()),
		Tx:               dbClient,
		Creator:          shipmentsSvc,
		Transitioner:     statusSvc,
		Outbox:           emitter,
		FallbackSellerID: fallbackSellerID,
		Logger:           logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Allocation:  allocationSvc,
			Fulfillment: fulfillmentSvc,
			Shipments:   shipmentsSvc,
			OrderStatus: statusSvc,
			Metrics:     registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
