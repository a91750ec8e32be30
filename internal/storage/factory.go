package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/vector"
)

// resolveBackend returns the backend to open and, for SQLite, the database path. An unset
// backend is inferred from the DSN.
func resolveBackend(cfg config.StoreConfig) (backend, sqlitePath string) {
	backend = cfg.Backend
	if backend == "" {
		backend = config.BackendFromDSN(cfg.DSN)
	}
	sqlitePath = cfg.SQLitePath
	if sqlitePath == "" {
		sqlitePath = cfg.DSN
	}
	return backend, sqlitePath
}

// Open creates the configured store. dims is the embedder's output size.
func Open(ctx context.Context, cfg config.StoreConfig, dims int, roles []string, logger *zap.Logger) (ReadWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, sqlitePath := resolveBackend(cfg)
	logger = logger.With(zap.String("store", backend))
	switch backend {
	case config.BackendPostgres:
		return NewPostgresStore(ctx, postgresConfig(cfg, dims), logger)
	case config.BackendSQLite:
		return NewSQLiteStore(sqlitePath, logger)
	case config.BackendMemory:
		return NewMemoryStore(logger), nil
	case config.BackendQdrant:
		return NewQdrantStore(ctx, qdrantConfig(cfg, dims, roles), logger)
	}
	return nil, fmt.Errorf("unknown store backend %q (want postgres, sqlite, memory or qdrant)", backend)
}

// Migrate creates the table or collection and its vector indexes. For Qdrant, metric
// fixes the collection's distance function.
func Migrate(ctx context.Context, cfg config.StoreConfig, dims int, metric vector.Metric) error {
	backend, sqlitePath := resolveBackend(cfg)
	switch backend {
	case config.BackendPostgres:
		return MigratePostgres(ctx, postgresConfig(cfg, dims))
	case config.BackendQdrant:
		return MigrateQdrant(ctx, qdrantConfig(cfg, dims, nil), metric)
	case config.BackendSQLite:
		s, err := NewSQLiteStore(sqlitePath, nil)
		if err != nil {
			return err
		}
		return s.Close()
	case config.BackendMemory:
		return nil
	}
	return fmt.Errorf("unknown store backend %q", backend)
}

func postgresConfig(cfg config.StoreConfig, dims int) PostgresConfig {
	return PostgresConfig{
		DSN:            cfg.DSN,
		Schema:         cfg.Schema,
		Table:          cfg.Table,
		MaxConns:       cfg.MaxConns,
		ConnectTimeout: cfg.ConnectTimeout,
		Dimensions:     dims,
	}
}

func qdrantConfig(cfg config.StoreConfig, dims int, roles []string) QdrantConfig {
	return QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
		Dimensions: dims,
		Roles:      roles,
	}
}

var (
	_ ReadWriter = (*MemoryStore)(nil)
	_ ReadWriter = (*SQLiteStore)(nil)
	_ ReadWriter = (*PostgresStore)(nil)
	_ ReadWriter = (*QdrantStore)(nil)
)
