package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fabfab/aiact-explorer/logging"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("embedding cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type cachedEmbedder struct {
	inner  Embedder
	cache  Cache
	prefix string
	logger *zap.SugaredLogger
}

// NewCachedEmbedder wraps inner with a read-through cache keyed by model and
// text hash. Cache failures degrade to calling inner; they never fail Embed.
func NewCachedEmbedder(inner Embedder, cache Cache, model string, logger *zap.SugaredLogger) Embedder {
	return &cachedEmbedder{
		inner:  inner,
		cache:  cache,
		prefix: "aiact:emb:" + model + ":",
		logger: logging.OrNop(logger),
	}
}

func (c *cachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *cachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		data, err := c.cache.Get(ctx, c.key(text))
		if err == nil {
			if vec, decErr := decodeVector(data); decErr == nil {
				results[i] = vec
				continue
			}
		} else if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warnw("embedding cache read failed", "error", err)
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missing))
	}

	for j, vec := range vectors {
		results[missingIdx[j]] = vec
		if err := c.cache.Set(ctx, c.key(missing[j]), encodeVector(vec)); err != nil {
			c.logger.Warnw("embedding cache write failed", "error", err)
		}
	}
	return results, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached vector length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// RedisCache stores vectors as little-endian float32 blobs with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
