// Package resultcache caches finished query outcomes in the key-value
// store with a short TTL. Entries are opaque bytes: the usecase owns the
// payload encoding, the cache owns keys, TTL and per-dataset flush.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	"github.com/deepfield-io/zoomdex/internal/domain"
)

var resultKeyPrefix = domain.KeyPrefix + "results:"

// store is the consumer interface for the result cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Cache is the KV-backed result cache.
type Cache struct {
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a result cache. cacheTotal is a counter vec with label
// "result" ("hit"/"miss"), passed explicitly.
func New(s store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{store: s, ttl: ttl, cacheTotal: cacheTotal, logger: logger}
}

// key namespaces entries per dataset so a flush can scan them, and hashes
// the request fingerprint so arbitrary query text stays key-safe.
func key(datasetID, fingerprint string) string {
	h := sha256.Sum256([]byte(fingerprint))
	return resultKeyPrefix + datasetID + ":" + hex.EncodeToString(h[:])
}

// Get returns the cached payload for the request fingerprint, if present.
// Store failures count as misses.
func (c *Cache) Get(ctx context.Context, datasetID, fingerprint string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key(datasetID, fingerprint))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Result cache read failed",
				zap.String("dataset", datasetID), zap.Error(err))
		}
		c.incCache("miss")
		return nil, false
	}
	c.incCache("hit")
	return data, true
}

// Put stores the payload under the request fingerprint. Best effort.
func (c *Cache) Put(ctx context.Context, datasetID, fingerprint string, payload []byte) {
	if err := c.store.SetWithTTL(ctx, key(datasetID, fingerprint), payload, c.ttl); err != nil {
		c.logger.Warn("Result cache write failed",
			zap.String("dataset", datasetID), zap.Error(err))
	}
}

// Flush removes every cached result of the dataset. Called when the
// dataset's index is rebuilt or invalidated.
func (c *Cache) Flush(ctx context.Context, datasetID string) error {
	keys, err := c.store.Scan(ctx, resultKeyPrefix+datasetID+":*")
	if err != nil {
		return fmt.Errorf("flush results %s: %w", datasetID, err)
	}
	for _, k := range keys {
		if err := c.store.Del(ctx, k); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
			return fmt.Errorf("flush results %s: %w", datasetID, err)
		}
	}
	return nil
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
