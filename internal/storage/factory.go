package storage

import (
	"context"
	"fmt"

	"github.com/dshills/catalog-mcp/internal/config"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Migrator is implemented by stores that can undo their last migration
type Migrator interface {
	RollbackLast(ctx context.Context) (string, error)
}

// Open creates the store selected by cfg.Driver. dimension is the
// embedding dimension, used for the pgvector column type.
func Open(ctx context.Context, cfg config.DatabaseConfig, dimension int, opts ...Option) (Storage, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteStorage(cfg.SQLite.Path, opts...)
	case "postgres":
		return NewPostgresStorage(ctx, cfg.Postgres.DSN, PostgresOptions{
			Dimension:       dimension,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", types.ErrConfiguration, cfg.Driver)
	}
}
