package embedding

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RemoteCache is a shared second-level cache consulted after the in-process LRU.
type RemoteCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, value []float32) error
	Close() error
}

// CachedEmbedder wraps an Embedder with an LRU cache, an optional remote cache, and
// suppression of concurrent identical requests.
type CachedEmbedder struct {
	inner  Embedder
	local  *EmbeddingCache
	remote RemoteCache
	group  singleflight.Group
	logger *zap.Logger
}

// CacheOption configures a CachedEmbedder.
type CacheOption func(*CachedEmbedder)

// WithRemoteCache adds a shared cache behind the local LRU.
func WithRemoteCache(rc RemoteCache) CacheOption {
	return func(c *CachedEmbedder) {
		c.remote = rc
	}
}

// WithLogger sets the logger used for remote cache failures.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *CachedEmbedder) {
		c.logger = logger
	}
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int, opts ...CacheOption) *CachedEmbedder {
	c := &CachedEmbedder{
		inner:  inner,
		local:  NewEmbeddingCache(size),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the embedding for text, consulting the caches first.
// Returned slices are shared with the cache and must not be modified.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key, err := normalizeText(text)
	if err != nil {
		return nil, err
	}
	if v, ok := c.local.Get(key); ok {
		return v, nil
	}
	// The shared call outlives any single caller's cancellation; each caller stops
	// waiting on its own context instead.
	work := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.remoteGet(work, key); ok {
			c.local.Set(key, v)
			return v, nil
		}
		v, err := c.inner.Embed(work, key)
		if err != nil {
			return nil, err
		}
		c.local.Set(key, v)
		c.remoteSet(work, key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

// EmbedBatch embeds only the texts missing from the caches, in one call to the wrapped embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missKeys []string
	var missIdx []int
	for i, text := range texts {
		key, err := normalizeText(text)
		if err != nil {
			return nil, err
		}
		if v, ok := c.local.Get(key); ok {
			out[i] = v
			continue
		}
		if v, ok := c.remoteGet(ctx, key); ok {
			c.local.Set(key, v)
			out[i] = v
			continue
		}
		missKeys = append(missKeys, key)
		missIdx = append(missIdx, i)
	}
	if len(missKeys) == 0 {
		return out, nil
	}
	embs, err := c.inner.EmbedBatch(ctx, missKeys)
	if err != nil {
		return nil, err
	}
	for j, v := range embs {
		c.local.Set(missKeys[j], v)
		c.remoteSet(ctx, missKeys[j], v)
		out[missIdx[j]] = v
	}
	return out, nil
}

func (c *CachedEmbedder) remoteGet(ctx context.Context, key string) ([]float32, bool) {
	if c.remote == nil {
		return nil, false
	}
	v, ok, err := c.remote.Get(ctx, c.inner.Model(), key)
	if err != nil {
		c.logger.Warn("remote embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if ok && len(v) != c.inner.Dimensions() {
		return nil, false
	}
	return v, ok
}

func (c *CachedEmbedder) remoteSet(ctx context.Context, key string, v []float32) {
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, c.inner.Model(), key, v); err != nil {
		c.logger.Warn("remote embedding cache write failed", zap.Error(err))
	}
}

// CacheStats reports the in-process cache counters.
func (c *CachedEmbedder) CacheStats() CacheStats {
	return c.local.Stats()
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Model returns the wrapped embedder's model identifier.
func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// Close closes the remote cache and the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	if c.remote != nil {
		if err := c.remote.Close(); err != nil {
			c.logger.Warn("close remote embedding cache", zap.Error(err))
		}
	}
	return c.inner.Close()
}
