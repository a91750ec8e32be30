package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/recall/internal/vector"
)

// RedisCache stores embeddings in Redis so several server processes share encoder work.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client, prefix: "recall:emb:", ttl: ttl}, nil
}

func (r *RedisCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return r.prefix + model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector, or ok=false on a miss.
func (r *RedisCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	b, err := r.client.Get(ctx, r.key(model, text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := vector.Decode(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores the vector with the configured TTL (zero means no expiry).
func (r *RedisCache) Set(ctx context.Context, model, text string, value []float32) error {
	return r.client.Set(ctx, r.key(model, text), vector.Encode(value), r.ttl).Err()
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
