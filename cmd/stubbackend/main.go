// Command stubbackend serves an in-memory Backend Validation API for local
// development.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/PlanCheck/internal/config"
	"github.com/dharsanguruparan/PlanCheck/internal/logging"
	"github.com/dharsanguruparan/PlanCheck/internal/stubbackend"
)

func main() {
	envFile := flag.String("env-file", "", "optional env file to load")
	delay := flag.Duration("delay", 0, "artificial latency added to every upload and validation")
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

	opts := stubbackend.Options{
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger.Named("stub"),
	}
	if *delay > 0 {
		sleep := func(string) error { time.Sleep(*delay); return nil }
		opts.BeforeUpload = sleep
		opts.BeforeValidate = sleep
	}

	srv := &http.Server{
		Addr:              cfg.StubAddress,
		Handler:           stubbackend.New(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("stub backend listening", zap.String("addr", cfg.StubAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("stub backend stopped", zap.Error(err))
		os.Exit(1)
	}
}
