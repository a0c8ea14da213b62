// Package storage opens the configured storage collaborator.
package storage

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"trackcore/internal/config"
	"trackcore/internal/infra/persistence/memory"
	"trackcore/internal/infra/persistence/postgres"
	"trackcore/internal/infra/persistence/sqlite"
	"trackcore/internal/mapping"
	"trackcore/pkg/domain"
)

// Backend is a storage collaborator that also runs mapping commands.
type Backend interface {
	domain.Storage
	mapping.Executor
}

// Open selects a backend from cfg.Driver: memory, sqlite or postgres.
func Open(ctx context.Context, cfg config.Storage, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case config.StorageMemory, "":
		b = memory.NewStore(memory.WithLogger(logger))
	case config.StorageSQLite:
		b, err = sqlite.NewStore(ctx, cfg.SQLitePath, logger)
	case config.StoragePostgres:
		b, err = postgres.NewStore(ctx, cfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("storage opened", zap.String("driver", driverName(cfg.Driver)))
	return b, nil
}

// Factory returns a domain.StorageFactory opening the configured backend under
// the default (empty) storage name. Other names are rejected.
func Factory(cfg config.Storage, logger *zap.Logger) domain.StorageFactory {
	return func(ctx context.Context, name string) (domain.Storage, error) {
		if name != "" {
			return nil, fmt.Errorf("storage %q not configured", name)
		}
		return Open(ctx, cfg, logger)
	}
}

// Close releases backends holding external resources.
func Close(s domain.Storage) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func driverName(d string) string {
	if d == "" {
		return config.StorageMemory
	}
	return d
}
