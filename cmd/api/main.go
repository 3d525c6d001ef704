package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tant/service-center-backend/api/routes"
	"github.com/tant/service-center-backend/internal/allocation"
	documentsvc "github.com/tant/service-center-backend/internal/documents"
	"github.com/tant/service-center-backend/internal/lifecycle"
	"github.com/tant/service-center-backend/internal/registry"
	"github.com/tant/service-center-backend/internal/rma"
	"github.com/tant/service-center-backend/internal/stock"
	warehousesvc "github.com/tant/service-center-backend/internal/warehouses"
	"github.com/tant/service-center-backend/pkg/config"
	"github.com/tant/service-center-backend/pkg/db"
	"github.com/tant/service-center-backend/pkg/logger"
	"github.com/tant/service-center-backend/pkg/metrics"
	"github.com/tant/service-center-backend/pkg/migrate"
	"github.com/tant/service-center-backend/pkg/outbox"
	"github.com/tant/service-center-backend/pkg/redis"
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

	promRegistry := prometheus.NewRegistry()
	transitionMetrics := metrics.NewTransitionMetrics(promRegistry)

	gormDB := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)
	stockRepo := stock.NewRepository(gormDB)

	warehouseSvc, err := warehousesvc.NewService(warehousesvc.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create warehouse service", err)
		os.Exit(1)
	}
	documentSvc, err := documentsvc.NewService(documentsvc.NewRepository(gormDB), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create document service", err)
		os.Exit(1)
	}
	registrySvc, err := registry.NewService(registry.NewRepository(gormDB), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create registry service", err)
		os.Exit(1)
	}
	lifecycleSvc, err := lifecycle.NewService(lifecycle.NewRepository(gormDB), dbClient, registrySvc, stockRepo, outboxSvc, transitionMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create lifecycle service", err)
		os.Exit(1)
	}
	allocationSvc, err := allocation.NewService(allocation.NewRepository(gormDB), dbClient, registrySvc, lifecycleSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create allocation service", err)
		os.Exit(1)
	}
	rmaSvc, err := rma.NewService(rma.NewRepository(gormDB), dbClient, documentSvc, allocationSvc, lifecycleSvc, warehousesvc.NewRepository(gormDB), outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create rma service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	instance := os.Getenv("HOSTNAME")
	if instance == "" {
		instance = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			PromGatherer: promRegistry,
			Warehouses:   warehouseSvc,
			Documents:    documentSvc,
			Lifecycle:    lifecycleSvc,
			Allocation:   allocationSvc,
			Registry:     registrySvc,
			RMA:          rmaSvc,
			StockRepo:    stockRepo,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
