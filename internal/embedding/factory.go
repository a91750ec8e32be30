package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
)

// New builds the configured embedder once, wrapped in the LRU cache and, when configured,
// the shared Redis cache. Unknown providers and models fail here.
func New(ctx context.Context, cfg config.EmbeddingConfig, cacheCfg config.CacheConfig, logger *zap.Logger) (*CachedEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var inner Embedder
	switch cfg.Provider {
	case config.ProviderONNX:
		e, err := NewONNXEmbedder(ONNXConfig{
			Model:      cfg.Model,
			ModelPath:  cfg.ModelPath,
			VocabPath:  cfg.VocabPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			OutputName: cfg.OutputName,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case config.ProviderOpenAI:
		e, err := NewOpenAIEmbedder(ctx, OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case config.ProviderHash:
		dims, err := ResolveDimensions(cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = NewHashEmbedder(cfg.Model, dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want onnx, openai or hash)", cfg.Provider)
	}

	opts := []CacheOption{WithLogger(logger)}
	if cacheCfg.RedisAddr != "" {
		rc, err := NewRedisCache(ctx, cacheCfg.RedisAddr, cacheCfg.RedisPassword, cacheCfg.RedisDB, cacheCfg.TTL)
		if err != nil {
			logger.Warn("redis embedding cache unavailable, using in-process cache only",
				zap.String("addr", cacheCfg.RedisAddr), zap.Error(err))
		} else {
			opts = append(opts, WithRemoteCache(rc))
		}
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", inner.Model()),
		zap.Int("dimensions", inner.Dimensions()))
	return NewCachedEmbedder(inner, cfg.CacheSize, opts...), nil
}
