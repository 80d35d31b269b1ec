// Package app assembles the proposal service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"h2o-proposal-system/internal/config"
	"h2o-proposal-system/internal/generative"
	"h2o-proposal-system/internal/jobs"
	"h2o-proposal-system/internal/kvstore"
	"h2o-proposal-system/internal/provencase"
	"h2o-proposal-system/internal/repository"
	"h2o-proposal-system/internal/workflow"
)

const rethinkConnectAttempts = 5

type App struct {
	Store      kvstore.Store
	Cases      repository.ProvenCaseRepository
	Controller *workflow.Controller
	Jobs       *jobs.Manager

	closers []func() error
}

// Options overrides parts of the assembly, mostly for tests and the CLI.
type Options struct {
	Store  kvstore.Store
	Client generative.Client
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{}

	store := opts.Store
	if store == nil {
		var err error
		store, err = openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
	}
	a.Store = store

	cases, err := a.openCases(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Cases = cases

	client := opts.Client
	if client == nil {
		client = generative.NewHTTPClient(cfg.GenerativeConfig())
	}
	adapter := generative.NewAdapter(client, cfg.GenerativeAttemptTimeout, logger.Named("generative"))
	lookup := provencase.NewLookup(cases, logger.Named("provencase"))

	a.Controller = workflow.NewController(lookup, adapter, cfg.WorkflowConfig(), logger.Named("workflow"))
	a.Jobs = jobs.NewManager(store, a.Controller, cfg.JobsConfig(), logger.Named("jobs"))
	return a, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (kvstore.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		store, err := kvstore.NewRedisStore(cfg.RedisOptions(), logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		logger.Info("job store ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisURL))
		return store, nil
	default:
		logger.Info("job store ready", zap.String("backend", "memory"))
		return kvstore.NewMemoryStore(time.Minute), nil
	}
}

func (a *App) openCases(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.ProvenCaseRepository, error) {
	switch cfg.ProvenCaseSource {
	case config.SourceRethinkDB:
		session, err := connectToRethinkDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return session.Close() })

		repo := repository.NewRethinkRepository(session, cfg.TableName)
		setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := repo.EnsureTable(setupCtx, cfg.DBName); err != nil {
			return nil, err
		}
		if cfg.SeedDataset {
			seed, err := repository.LoadProvenCases(cfg.DatasetPath, logger)
			if err != nil {
				return nil, err
			}
			if err := repo.Seed(setupCtx, seed); err != nil {
				return nil, err
			}
			logger.Info("proven cases seeded", zap.Int("count", len(seed)))
		}
		return repo, nil
	case config.SourceFile:
		cases, err := repository.LoadProvenCases(cfg.DatasetPath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("proven cases loaded", zap.String("path", cfg.DatasetPath), zap.Int("count", len(cases)))
		return repository.NewStaticRepository(cases), nil
	default:
		cases, err := repository.BuiltinProvenCases(logger)
		if err != nil {
			return nil, err
		}
		logger.Info("proven cases loaded", zap.String("source", "builtin"), zap.Int("count", len(cases)))
		return repository.NewStaticRepository(cases), nil
	}
}

func connectToRethinkDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*r.Session, error) {
	var err error
	for i := 1; i <= rethinkConnectAttempts; i++ {
		var session *r.Session
		session, err = r.Connect(r.ConnectOpts{
			Address:    cfg.RethinkDBURL,
			Database:   cfg.DBName,
			MaxOpen:    20,
			InitialCap: 5,
			Timeout:    10 * time.Second,
		})
		if err == nil {
			logger.Info("connected to RethinkDB", zap.String("addr", cfg.RethinkDBURL))
			return session, nil
		}
		if i == rethinkConnectAttempts {
			break
		}

		wait := time.Duration(i) * 2 * time.Second
		logger.Warn("RethinkDB connection failed, retrying",
			zap.Int("attempt", i),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("failed to connect to RethinkDB after %d attempts: %w", rethinkConnectAttempts, err)
}

// Shutdown drains the job manager, then releases the backends.
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.Jobs.Shutdown(ctx), a.Close())
}

// Close releases the store and database sessions.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
