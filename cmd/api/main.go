// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"h2o-proposal-system/internal/api"
	"h2o-proposal-system/internal/app"
	"h2o-proposal-system/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("proposal API stopped with error", zap.Error(err))
	}
	logger.Info("proposal API stopped gracefully")
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.ServerPort, svc.Jobs, svc.Store, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return svc.Jobs.RunMonitor(gctx, cfg.MonitorInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), svc.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func logConfig(logger *zap.Logger, cfg *config.Config) {
	logger.Info("configuration",
		zap.String("server_port", cfg.ServerPort),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("proven_case_source", cfg.ProvenCaseSource),
		zap.String("generative_base_url", cfg.GenerativeBaseURL),
		zap.String("generative_model", cfg.GenerativeModel),
		zap.Duration("job_max_duration", cfg.JobMaxDuration),
		zap.Int("job_concurrency", cfg.JobConcurrency),
		zap.Int("call_budget", cfg.CallBudget),
		zap.Bool("strict_consistency", cfg.StrictConsistency))
}
