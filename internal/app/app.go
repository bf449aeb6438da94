// Package app wires configuration into a running onboarding service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/merchantonboarding/internal/config"
	"github.com/Lllllllleong/merchantonboarding/internal/gcp"
	"github.com/Lllllllleong/merchantonboarding/internal/lock"
	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/Lllllllleong/merchantonboarding/internal/services"
	"github.com/Lllllllleong/merchantonboarding/internal/store"
	"github.com/redis/go-redis/v9"
)

// App owns the service and every client it was built from.
type App struct {
	Service *services.Onboarding

	pool    *services.WorkerPool
	closers []func() error
}

// New builds the service described by cfg. On error every client opened so
// far is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Shutdown(context.Background())
		}
	}()

	gcs, err := gcp.NewStorage(ctx, cfg.Bucket, cfg.Pipeline.StorageTimeout)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, gcs.Close)

	fsClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, fsClient.Close)
	jobs := gcp.NewJobStore(fsClient, cfg.FirestoreCollection)

	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	merchants := store.NewMerchantStore(db)
	if err := merchants.Migrate(ctx); err != nil {
		return nil, err
	}

	search, err := gcp.NewSearchProvisioner(ctx, gcp.SearchConfig{
		ProjectID:      cfg.ProjectID,
		Location:       cfg.Search.Location,
		Collection:     cfg.Search.Collection,
		RequestTimeout: cfg.Search.RequestTimeout,
		CreateTimeout:  cfg.Search.CreateTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, search.Close)

	locker, err := a.newLocker(cfg)
	if err != nil {
		return nil, err
	}

	deps := services.Deps{
		Jobs:      jobs,
		Merchants: merchants,
		Storage:   gcs,
		Search:    search,
		Locker:    locker,
	}

	if cfg.Vertex.TranscribeModel != "" {
		transcriber, err := gcp.NewTranscriber(ctx, cfg.ProjectID, cfg.Vertex.Region, cfg.Vertex.TranscribeModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, transcriber.Close)
		deps.Transcriber = transcriber
	}

	if deps.Dispatcher, err = a.newDispatcher(ctx, cfg); err != nil {
		return nil, err
	}

	a.Service, err = services.NewOnboarding(deps, services.OnboardingConfig{
		ProjectID:        cfg.ProjectID,
		SearchLocation:   cfg.Search.Location,
		SignedURLTTL:     cfg.SignedURLTTL,
		LogoURLTTL:       cfg.LogoURLTTL,
		DocumentWorkers:  cfg.Pipeline.DocumentWorkers,
		ChunkSize:        cfg.Pipeline.ChunkSize,
		ActiveJobTimeout: cfg.Pipeline.ActiveJobTimeout,
		ContentRequired:  cfg.Search.ContentRequired,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) newLocker(cfg *config.Config) (services.Locker, error) {
	if cfg.Redis.Addr == "" {
		slog.Warn("REDIS_ADDR not set, merchant locks are process local.")
		return lock.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	return lock.NewRedisLocker(lock.RedisClient{Client: client}, cfg.Redis.LockTTL)
}

func (a *App) newDispatcher(ctx context.Context, cfg *config.Config) (services.Dispatcher, error) {
	switch cfg.Dispatch.Mode {
	case config.DispatchPubSub:
		d, err := gcp.NewPubSubDispatcher(ctx, cfg.ProjectID, cfg.Dispatch.PubSubTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		return d, nil
	case config.DispatchWorkflow:
		d, err := gcp.NewWorkflowDispatcher(ctx, gcp.WorkflowConfig{
			ProjectID:       cfg.ProjectID,
			Location:        cfg.Dispatch.WorkflowLocation,
			ID:              cfg.Dispatch.WorkflowID,
			CallbackBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		return d, nil
	case config.DispatchLocal:
		// The handler runs after New returns, once a.Service is set.
		a.pool = services.NewWorkerPool(cfg.Dispatch.WorkerCount, cfg.Dispatch.QueueSize, func(ctx context.Context, ticket models.JobTicket) error {
			_, err := a.Service.RunJob(ctx, ticket.JobID)
			return err
		})
		return a.pool, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}
}

// Shutdown drains the local worker pool, if any, then closes every client.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool: %w", err))
		}
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
