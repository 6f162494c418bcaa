package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(2)

	require.NoError(t, cache.Set(ctx, "a", []float32{1}))
	require.NoError(t, cache.Set(ctx, "b", []float32{2}))

	t.Run("Get moves to front", func(t *testing.T) {
		value, ok, err := cache.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []float32{1}, value)
	})

	t.Run("Oldest entry is evicted", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "c", []float32{3}))
		assert.Equal(t, 2, cache.Len())

		_, ok, _ := cache.Get(ctx, "b")
		assert.False(t, ok, "Expected b to be evicted")
		_, ok, _ = cache.Get(ctx, "a")
		assert.True(t, ok)
	})

	t.Run("Set overwrites", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "a", []float32{9}))
		value, _, _ := cache.Get(ctx, "a")
		assert.Equal(t, []float32{9}, value)
		assert.Equal(t, 2, cache.Len())
	})

	t.Run("Callers cannot change cached vectors", func(t *testing.T) {
		stored := []float32{4, 5}
		require.NoError(t, cache.Set(ctx, "d", stored))
		stored[0] = 0

		value, ok, err := cache.Get(ctx, "d")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []float32{4, 5}, value)

		value[1] = 0
		again, _, _ := cache.Get(ctx, "d")
		assert.Equal(t, []float32{4, 5}, again)
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisCache(client, "test:", time.Minute)

	t.Run("Round trip", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "key", []float32{0.5, -1.25, 3}))

		value, ok, err := cache.Get(ctx, "key")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []float32{0.5, -1.25, 3}, value)
		assert.True(t, mr.Exists("test:key"))
	})

	t.Run("Miss", func(t *testing.T) {
		_, ok, err := cache.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Entries expire", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "short", []float32{1}))
		mr.FastForward(2 * time.Minute)

		_, ok, err := cache.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Corrupt entry", func(t *testing.T) {
		require.NoError(t, mr.Set("test:corrupt", "abc"))
		_, _, err := cache.Get(ctx, "corrupt")
		assert.Error(t, err)
	})
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	inner := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return vectorFor(text), nil
	}, 3)

	t.Run("Repeated texts hit the cache", func(t *testing.T) {
		embedder := NewCachedEmbedder(inner, NewMemoryCache(10), "test", nil)

		vectors, err := embedder.EmbedBatch(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{vectorFor("a"), vectorFor("b")}, vectors)
		assert.Equal(t, int32(2), calls.Load())

		vectors, err = embedder.EmbedBatch(ctx, []string{"b", "c", "a"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{vectorFor("b"), vectorFor("c"), vectorFor("a")}, vectors)
		assert.Equal(t, int32(3), calls.Load(), "Expected only c to be embedded")
		assert.Equal(t, 3, embedder.Dimension())
	})

	t.Run("Unreachable redis falls through", func(t *testing.T) {
		calls.Store(0)
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		mr.Close()

		embedder := NewCachedEmbedder(inner, NewRedisCache(client, "test:", 0), "test", nil)
		vector, err := embedder.Embed(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, vectorFor("a"), vector)
		assert.Equal(t, int32(1), calls.Load())
	})
}
