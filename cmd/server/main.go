// Command server runs the dashboard API: it tracks uploads and validations
// against the Backend Validation API and serves them as JSON.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/api"
	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/config"
	"github.com/dharsanguruparan/PlanCheck/internal/controller"
	"github.com/dharsanguruparan/PlanCheck/internal/database"
	"github.com/dharsanguruparan/PlanCheck/internal/logging"
	"github.com/dharsanguruparan/PlanCheck/internal/metrics"
	"github.com/dharsanguruparan/PlanCheck/internal/progress"
	"github.com/dharsanguruparan/PlanCheck/internal/repository"
	"github.com/dharsanguruparan/PlanCheck/internal/s3storage"
)

func main() {
	envFile := flag.String("env-file", "", "optional env file to load")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	opts := []controller.Option{
		controller.WithLogger(logger.Named("controller")),
		controller.WithMetrics(rec),
		controller.WithProgress(progress.New(cfg.ProgressInterval, cfg.ProgressStep, cfg.ProgressCap)),
		controller.WithClearDelay(cfg.ProgressClearDelay),
	}
	apiOpts := api.Options{
		Gatherer:    reg,
		Logger:      logger.Named("api"),
		MaxFileSize: cfg.MaxFileSize,
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		repo := repository.NewResultRepository(pool)
		opts = append(opts, controller.WithResultSink(repo))
		apiOpts.History = repo
		logger.Info("result history enabled")
	}
	if cfg.ObjectStorageEnabled() {
		store, err := s3storage.New(cfg)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		apiOpts.Reports = store
		logger.Info("report publishing enabled", zap.String("bucket", store.Bucket()))
	}

	client := backend.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, logger.Named("backend"))
	ctrl := controller.New(client, opts...)
	defer ctrl.Close()
	apiOpts.Controller = ctrl

	logger.Info("using backend", zap.String("url", cfg.APIBaseURL))
	return api.New(apiOpts).Run(ctx, cfg.Address)
}
