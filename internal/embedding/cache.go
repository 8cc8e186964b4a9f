package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "arena:emb:"

// CachedProvider memoises another provider's vectors in Redis.
type CachedProvider struct {
	inner  Provider
	rdb    *redis.Client
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProvider wraps inner. model namespaces the cache keys.
func NewCachedProvider(inner Provider, rdb *redis.Client, model string, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{inner: inner, rdb: rdb, model: model, ttl: ttl, logger: logger}
}

func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }

// Embed serves hits from Redis and embeds only the misses. Redis failures
// degrade to calling the inner provider directly.
func (c *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", zap.Error(err))
		return c.inner.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, v := range vals {
		if s, ok := v.(string); ok {
			if vec, ok := decodeVector(s); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(fresh), len(missTexts))
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], encodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return out, nil
}

func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cachePrefix + c.model + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return string(buf)
}

func decodeVector(s string) ([]float32, bool) {
	if len(s)%4 != 0 {
		return nil, false
	}
	b := []byte(s)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
