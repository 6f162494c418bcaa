package pipeline

import (
	"container/list"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/grounder/config"
)

// EmbeddingCache stores embeddings keyed by text.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, value []float32) error
}

func newCache(cfg config.EmbeddingConfig) EmbeddingCache {
	if cfg.RedisAddr != "" {
		return NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), "grounder:embedding:",
			time.Duration(cfg.CacheTTLSec)*time.Second)
	}
	return NewMemoryCache(cfg.CacheSize)
}

// MemoryCache is an LRU cache for embeddings.
type MemoryCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewMemoryCache creates a new cache with the given capacity.
func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{
		capacity: max(capacity, 1),
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the cached embedding for key if present.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return slices.Clone(elem.Value.(*cacheEntry).value), true, nil
	}
	return nil, false, nil
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *MemoryCache) Set(ctx context.Context, key string, value []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = slices.Clone(value)
		return nil
	}

	entry := &cacheEntry{key: key, value: slices.Clone(value)}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
	return nil
}

// Len returns the number of cached embeddings.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// RedisCache stores embeddings as little endian float32 strings in redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache on client. A ttl of zero keeps entries forever.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load embedding from redis: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, false, fmt.Errorf("corrupt embedding of %d bytes in redis", len(data))
	}

	value := make([]float32, len(data)/4)
	for i := range value {
		value[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []float32) error {
	data := make([]byte, len(value)*4)
	for i, v := range value {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save embedding to redis: %w", err)
	}
	return nil
}

// CachedEmbedder serves repeated texts from a cache.
// Cache failures are logged and fall through to the wrapped embedder.
type CachedEmbedder struct {
	embedder Embedder
	cache    EmbeddingCache
	scope    string
	logger   *slog.Logger
}

// NewCachedEmbedder wraps embedder. scope separates the keys of different models in a shared cache.
func NewCachedEmbedder(embedder Embedder, cache EmbeddingCache, scope string, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		embedder: embedder,
		cache:    cache,
		scope:    scope,
		logger:   logger,
	}
}

func (e *CachedEmbedder) key(text string) string {
	return fmt.Sprintf("%s:%d:%016x", e.scope, e.embedder.Dimension(), xxhash.Sum64String(text))
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds only the texts missing from the cache.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missingIdx := make([]int, 0, len(texts))
	missing := make([]string, 0, len(texts))

	for i, text := range texts {
		vector, ok, err := e.cache.Get(ctx, e.key(text))
		if err != nil {
			e.logger.Warn("Embedding cache lookup failed", slog.String("error", err.Error()))
		}
		if ok && len(vector) == e.embedder.Dimension() {
			out[i] = vector
			continue
		}
		missingIdx = append(missingIdx, i)
		missing = append(missing, text)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := e.embedder.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vector := range vectors {
		out[missingIdx[j]] = vector
		if err := e.cache.Set(ctx, e.key(missing[j]), vector); err != nil {
			e.logger.Warn("Embedding cache store failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

func (e *CachedEmbedder) Dimension() int {
	return e.embedder.Dimension()
}

// Close closes the wrapped embedder if it holds resources.
func (e *CachedEmbedder) Close() error {
	if closer, ok := e.embedder.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
