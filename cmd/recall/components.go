package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/ingest"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/service"
	"github.com/hyperjump/recall/internal/storage"
)

// Components holds the long-lived pieces every command shares. The embedder and store are
// built once per process.
type Components struct {
	Store    storage.ReadWriter
	Embedder *embedding.CachedEmbedder
	Engine   *search.Engine
	Service  *service.Service
	logger   *zap.Logger
}

// Loader returns an export loader writing to the shared store with the shared embedder.
func (c *Components) Loader(cfg *config.Config) *ingest.Loader {
	return ingest.NewLoader(c.Store, c.Embedder,
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithExtensions(cfg.Ingest.Extensions),
		ingest.WithLogger(c.logger))
}

// Close releases the store and the embedder.
func (c *Components) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.Warn("closing store", zap.Error(err))
		}
	}
	if c.Embedder != nil {
		if err := c.Embedder.Close(); err != nil {
			c.logger.Warn("closing embedder", zap.Error(err))
		}
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(ctx, cfg.Embedding, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Store, embedder.Dimensions(), cfg.Search.Roles, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	components := &Components{Store: store, Embedder: embedder, logger: logger}
	components.Engine = search.NewEngine(store, embedder, &cfg.Search, search.WithLogger(logger))
	components.Service, err = service.New(components.Engine, &cfg.Search, logger)
	if err != nil {
		components.Close()
		return nil, err
	}
	return components, nil
}

// embeddingDimensions resolves the vector size without loading a model when the config
// already states it.
func embeddingDimensions(ctx context.Context, cfg *config.Config, logger *zap.Logger) (int, error) {
	if dims, err := embedding.ResolveDimensions(cfg.Embedding.Model, cfg.Embedding.Dimensions); err == nil {
		return dims, nil
	}
	embedder, err := embedding.New(ctx, cfg.Embedding, config.CacheConfig{}, logger)
	if err != nil {
		return 0, err
	}
	defer embedder.Close()
	return embedder.Dimensions(), nil
}
