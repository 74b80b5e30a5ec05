// Package embcache is a caching decorator for the embedding encoder: a
// bounded in-process LRU in front of a TTL'd key-value store. Repeated
// query texts hit the provider once.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	"github.com/deepfield-io/zoomdex/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedEncoder caches text embeddings in a key-value store with a small
// in-memory LRU in front. Image encoding passes through uncached: snippet
// pixels rarely repeat byte-identically, and repeated classify calls are
// absorbed by the result cache one layer up.
type CachedEncoder struct {
	inner      domain.Encoder
	store      store
	model      string
	ttl        time.Duration
	local      *vectorLRU
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a caching decorator. The model name is folded into cache
// keys so a model switch never serves stale vectors. cacheTotal is a
// counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Encoder,
	s store,
	model string,
	ttl time.Duration,
	localCapacity int,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEncoder {
	return &CachedEncoder{
		inner:      inner,
		store:      s,
		model:      model,
		ttl:        ttl,
		local:      newVectorLRU(localCapacity),
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// EncodeText returns a cached embedding or calls the inner encoder.
// Cache hit: TotalTokens = 0 (no provider tokens consumed).
func (c *CachedEncoder) EncodeText(ctx context.Context, text string) (domain.EncodeResult, error) {
	key := c.cacheKey(text)

	if vec, ok := c.local.get(key); ok {
		c.noteHit(ctx)
		return domain.EncodeResult{Vector: vec}, nil
	}
	if vec, ok := c.getFromStore(ctx, key); ok {
		c.noteHit(ctx)
		c.local.put(key, vec)
		return domain.EncodeResult{Vector: vec}, nil
	}

	c.misses.Add(1)
	c.incCache("miss")

	result, err := c.inner.EncodeText(ctx, text)
	if err != nil {
		return domain.EncodeResult{}, fmt.Errorf("encode text: %w", err)
	}

	c.local.put(key, result.Vector)
	c.putToStore(ctx, key, result.Vector)
	return result, nil
}

// EncodeImage delegates to the inner encoder.
func (c *CachedEncoder) EncodeImage(ctx context.Context, img image.Image) (domain.EncodeResult, error) {
	result, err := c.inner.EncodeImage(ctx, img)
	if err != nil {
		return domain.EncodeResult{}, fmt.Errorf("encode image: %w", err)
	}
	return result, nil
}

// BatchEncodeText encodes each text through the cache so repeated entries
// still hit. Native provider batching is bypassed on purpose: probe lists
// are short and the cache wins outweigh one round trip.
func (c *CachedEncoder) BatchEncodeText(ctx context.Context, texts []string) (domain.BatchEncodeResult, error) {
	return domain.BatchTextFallback(ctx, c, texts)
}

// BatchEncodeImage passes through to the inner encoder's native batching
// when present. Images are not cached here.
func (c *CachedEncoder) BatchEncodeImage(ctx context.Context, imgs []image.Image) (domain.BatchEncodeResult, error) {
	if be, ok := c.inner.(domain.BatchImageEncoder); ok {
		res, err := be.BatchEncodeImage(ctx, imgs)
		if err != nil {
			return domain.BatchEncodeResult{}, fmt.Errorf("batch encode images: %w", err)
		}
		return res, nil
	}
	return domain.BatchImageFallback(ctx, c, imgs)
}

// HealthCheck delegates to the inner encoder when it supports checks.
func (c *CachedEncoder) HealthCheck(ctx context.Context) error {
	hc, ok := c.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("encoder health: %w", err)
	}
	return nil
}

// CacheHits returns the lifetime hit count for usage reporting.
func (c *CachedEncoder) CacheHits() int64 { return c.hits.Load() }

// CacheMisses returns the lifetime miss count for usage reporting.
func (c *CachedEncoder) CacheMisses() int64 { return c.misses.Load() }

// noteHit counts a hit and marks the request's usage collector: the
// encoder answered, just without spending provider tokens.
func (c *CachedEncoder) noteHit(ctx context.Context) {
	c.hits.Add(1)
	c.incCache("hit")
	domain.UsageFromContext(ctx).AddTokens(0)
}

func (c *CachedEncoder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEncoder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedEncoder) getFromStore(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return vec, true
}

func (c *CachedEncoder) putToStore(ctx context.Context, key string, vec []float32) {
	data := vectorToCacheBytes(vec)
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
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
