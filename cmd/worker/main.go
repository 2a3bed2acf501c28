// Command worker consumes document:validate tasks and records each result in
// the history database.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/backend"
	"github.com/dharsanguruparan/PlanCheck/internal/config"
	"github.com/dharsanguruparan/PlanCheck/internal/database"
	"github.com/dharsanguruparan/PlanCheck/internal/logging"
	"github.com/dharsanguruparan/PlanCheck/internal/repository"
	"github.com/dharsanguruparan/PlanCheck/internal/worker"
)

func main() {
	envFile := flag.String("env-file", "", "optional env file to load")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for the worker")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	repo := repository.NewResultRepository(pool)
	client := backend.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, logger.Named("backend"))

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      logger.Named("asynq").Sugar(),
	})
	processor := worker.NewProcessor(client, repo, nil, logger.Named("worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker started",
		zap.Int("concurrency", cfg.ProcessingPool),
		zap.String("redis", cfg.RedisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
