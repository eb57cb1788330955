package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*EmbeddingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewEmbeddingCache(rdb, time.Hour, nil), mr
}

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "text-embedding-3-small", "chest pain on exertion")
	assert.ErrorIs(t, err, ErrCacheMiss)

	want := []float64{0.25, -0.5, 0.75}
	c.Set(ctx, "text-embedding-3-small", "chest pain on exertion", want)

	got, err := c.Get(ctx, "text-embedding-3-small", "chest pain on exertion")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEmbeddingCache_KeyIncludesModel(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "model-a", "same text", []float64{1})

	_, err := c.Get(ctx, "model-b", "same text")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestEmbeddingCache_TTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "m", "t", []float64{1, 2})
	mr.FastForward(2 * time.Hour)

	_, err := c.Get(ctx, "m", "t")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestEmbeddingCache_CorruptEntryDropped(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(c.Key("m", "t"), "not json"))

	_, err := c.Get(ctx, "m", "t")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, mr.Exists(c.Key("m", "t")))
}

func TestEmbeddingCache_NilClientPassThrough(t *testing.T) {
	c := NewEmbeddingCache(nil, time.Hour, nil)
	ctx := context.Background()

	c.Set(ctx, "m", "t", []float64{1})
	_, err := c.Get(ctx, "m", "t")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestEmbeddingCache_GetBatch(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "m", "cached one", []float64{1})
	c.Set(ctx, "m", "cached two", []float64{2})

	vecs, misses := c.GetBatch(ctx, "m", []string{"cached one", "missing", "cached two"})
	require.Len(t, vecs, 3)
	assert.Equal(t, []float64{1}, vecs[0])
	assert.Nil(t, vecs[1])
	assert.Equal(t, []float64{2}, vecs[2])
	assert.Equal(t, []int{1}, misses)
}

func TestEmbeddingCache_RedisDownDegrades(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	c.Set(ctx, "m", "t", []float64{1})
	_, err := c.Get(ctx, "m", "t")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
