package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/health"
	"github.com/vladislavdragonenkov/podoms/internal/storage"
	"github.com/vladislavdragonenkov/podoms/internal/storage/postgres"
	"github.com/vladislavdragonenkov/podoms/internal/storage/sqlite"
)

// storageBackend - открытое хранилище, независимо от драйвера.
type storageBackend struct {
	driver string
	db     *bun.DB
	pinger health.Pinger
	close  func() error
}

// openStorage открывает хранилище по cfg.StorageDriver и готовит схему.
func openStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageBackend, error) {
	switch cfg.StorageDriver {
	case StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if err := store.CreateSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create sqlite schema: %w", err)
		}
		logger.WithField("driver", StorageSQLite).Info("storage initialized")
		return &storageBackend{driver: StorageSQLite, db: store.DB(), pinger: store, close: store.Close}, nil

	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.WithFields(log.Fields{
			"driver":       StoragePostgres,
			"auto_migrate": cfg.PostgresAutoMigrate,
		}).Info("storage initialized")
		return &storageBackend{driver: StoragePostgres, db: store.DB(), pinger: store, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// closeStorage закрывает хранилище, если оно открыто.
func closeStorage(backend *storageBackend, logger *log.Entry) {
	if backend == nil || backend.close == nil {
		return
	}
	if err := backend.close(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.WithField("driver", backend.driver).Info("storage closed")
}

// OpenRepositories открывает хранилище по конфигурации для служебных утилит.
// Возвращённая функция закрывает подключение.
func OpenRepositories(ctx context.Context, cfg Config) (*storage.Repositories, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	backend, err := openStorage(ctx, cfg, log.WithField("component", "storage"))
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRepositories(backend.db), backend.close, nil
}
