// Package cache provides a Redis-backed embedding cache. Re-ingesting the
// same document text skips the embedding endpoint entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

// EmbeddingCache stores computed embeddings keyed by (model, text). Cache
// failures degrade to pass-through; the caller never sees a Redis error on
// the read path.
type EmbeddingCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewEmbeddingCache creates a cache over the given Redis client. A nil
// client disables caching entirely.
func NewEmbeddingCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{
		redis:  rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

// Key derives the cache key from the embedding model and input text.
func (c *EmbeddingCache) Key(model, text string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + text))
	return "medflow:emb:" + hex.EncodeToString(hash[:16])
}

// Get returns the cached vector for (model, text). Redis errors are logged
// and reported as misses.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float64, error) {
	if c.redis == nil {
		return nil, ErrCacheMiss
	}

	data, err := c.redis.Get(ctx, c.Key(model, text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.Error(err))
		}
		return nil, ErrCacheMiss
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.Error(err))
		c.redis.Del(ctx, c.Key(model, text))
		return nil, ErrCacheMiss
	}
	return vec, nil
}

// Set stores a vector. Write failures are logged and swallowed.
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vec []float64) {
	if c.redis == nil || len(vec) == 0 {
		return
	}

	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.Key(model, text), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}

// GetBatch resolves each text against the cache, returning vectors aligned
// with texts (nil where missed) and the indexes still needing embedding.
func (c *EmbeddingCache) GetBatch(ctx context.Context, model string, texts []string) ([][]float64, []int) {
	vecs := make([][]float64, len(texts))
	var misses []int
	for i, text := range texts {
		vec, err := c.Get(ctx, model, text)
		if err != nil {
			misses = append(misses, i)
			continue
		}
		vecs[i] = vec
	}
	return vecs, misses
}
