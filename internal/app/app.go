// Package app assembles storage, locks and the ledger service from
// configuration. Both the HTTP server and ledgerctl start from here.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"prodlog/internal/config"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/numerator"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/infrastructure/codec/xlsx"
	"prodlog/internal/infrastructure/http/v1/handlers"
	"prodlog/internal/infrastructure/metrics"
	"prodlog/internal/infrastructure/periodlock"
	"prodlog/internal/infrastructure/storage/blob"
	"prodlog/internal/infrastructure/storage/ledgerstore"
	"prodlog/internal/infrastructure/storage/postgres"
	"prodlog/internal/refdata"
	"prodlog/pkg/logger"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Store   blob.Store
	Repo    *ledgerstore.Repository
	Locks   lock.Backend
	Ledger  *ledger.Service
	Rates   *refdata.Tables
	Metrics *metrics.Metrics

	// Checks are readiness probes for the backends in use.
	Checks []handlers.Check

	closers []func()
}

// New builds an App. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New()}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLocks(); err != nil {
		a.Close()
		return nil, err
	}

	rates := refdata.Empty()
	if cfg.RefDataFile != "" {
		t, err := refdata.Load(cfg.RefDataFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		rates = t
	}
	a.Rates = rates

	a.Repo = ledgerstore.New(a.Store)
	a.Ledger = ledger.NewService(a.Repo, a.Locks, xlsx.NewReverser(), Numbering(cfg.Numbering)).
		WithRecorder(a.Metrics)

	logger.Info(ctx, "application wired",
		"storage", cfg.StorageBackend,
		"locks", cfg.LockBackend,
		"numbering", cfg.Numbering,
		"counterparties", rates.Len(),
	)
	return a, nil
}

// Numbering maps a configuration name to a numbering format.
func Numbering(name string) numerator.Config {
	if name == "legacy" {
		return numerator.LegacyConfig()
	}
	return numerator.DefaultConfig()
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StorageBackend {
	case config.StorageMemory:
		a.Store = blob.NewMemory()

	case config.StorageFS:
		fs, err := blob.NewFilesystem(cfg.StorageDir)
		if err != nil {
			return fmt.Errorf("open storage dir: %w", err)
		}
		a.Store = fs

	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.PostgresDSN))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.Checks = append(a.Checks, handlers.Check{Name: "postgres", Probe: pool.Ping})

		pg, err := blob.NewPostgres(pool)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate blob store: %w", err)
		}
		a.Store = pg

	case config.StorageDrive:
		creds, err := os.ReadFile(cfg.DriveCredFile)
		if err != nil {
			return fmt.Errorf("read drive credentials: %w", err)
		}
		d, err := blob.NewDrive(ctx, cfg.DriveRootID, creds)
		if err != nil {
			return err
		}
		a.Store = d

	default:
		return fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	return nil
}

func (a *App) openLocks() error {
	cfg := a.Config
	var backend lock.Backend
	switch cfg.LockBackend {
	case config.LockMarker:
		backend = periodlock.NewMarker(a.Store, periodlock.MarkerConfig{TTL: cfg.LockTTL})

	case config.LockFile:
		backend = periodlock.NewFileAt(cfg.StorageDir, periodlock.FileConfig{
			PollInterval: cfg.LockPoll,
			Timeout:      cfg.LockWaitTimeout,
			TTL:          cfg.LockTTL,
		})

	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.Checks = append(a.Checks, handlers.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		backend = periodlock.NewRedis(client, periodlock.RedisConfig{TTL: cfg.LockTTL})

	default:
		return fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
	a.Locks = a.Metrics.InstrumentLocks(backend)
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
