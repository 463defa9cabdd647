package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/telemetry"
)

const cacheKeyPrefix = "emb_cache:"

// CachedEmbedder stores vectors in Redis keyed by embedder and text digest, so
// rebuilding a tenant's index after a restart or invalidation re-embeds only
// text that changed. Cache failures degrade to calling the inner embedder.
type CachedEmbedder struct {
	inner   rag.Embedder
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func NewCachedEmbedder(inner rag.Embedder, rdb redis.UniversalClient, ttl time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, ttl: ttl, metrics: metrics, logger: logger}
}

func (c *CachedEmbedder) Name() string   { return c.inner.Name() }
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) EmbedOne(ctx context.Context, text string) (rag.Embedding, error) {
	return embedOne(ctx, c, text)
}

func (c *CachedEmbedder) EmbedMany(ctx context.Context, texts []string) ([]rag.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
	}

	out := make([]rag.Embedding, len(texts))
	var missing []int

	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		cached = make([]any, len(keys))
	}
	for i, val := range cached {
		if vec, ok := c.decode(val); ok {
			out[i] = vec
			c.metrics.RecordEmbeddingCache("hit")
			continue
		}
		c.metrics.RecordEmbeddingCache("miss")
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missing))
	for j, i := range missing {
		missTexts[j] = texts[i]
	}
	vecs, err := c.inner.EmbedMany(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", rag.ErrEmbeddingUnavailable, c.inner.Name(), len(vecs), len(missing))
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missing {
		out[i] = vecs[j]
		pipe.Set(ctx, keys[i], vectorToCacheBytes(vecs[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache write failed", "error", err)
	}

	return out, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s%s:%d:%s", cacheKeyPrefix, c.inner.Name(), c.inner.Dimension(), hex.EncodeToString(h[:]))
}

func (c *CachedEmbedder) decode(val any) (rag.Embedding, bool) {
	s, ok := val.(string)
	if !ok || s == "" {
		return nil, false
	}
	vec, err := bytesToVector([]byte(s))
	if err != nil || len(vec) != c.inner.Dimension() {
		return nil, false
	}
	return vec, true
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
