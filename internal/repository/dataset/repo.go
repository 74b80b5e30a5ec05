// Package dataset is a read-through KV cache over tile-store descriptors.
// Descriptors are tiny and immutable between re-ingests, so replicas share
// them through the KV store instead of each hitting the tile backend.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	"github.com/deepfield-io/zoomdex/internal/domain"
	domds "github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// tiles is the consumer interface over the tile store (ISP).
type tiles interface {
	Descriptor(ctx context.Context, datasetID string) (domds.Descriptor, error)
	Datasets(ctx context.Context) ([]string, error)
}

// store is the consumer interface for the descriptor cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Repo resolves dataset descriptors with a KV cache in front of the tile
// store. Cache failures degrade to direct reads, never to request errors.
type Repo struct {
	tiles  tiles
	store  store
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a descriptor repository.
func New(t tiles, s store, ttl time.Duration, logger *zap.Logger) *Repo {
	return &Repo{tiles: t, store: s, ttl: ttl, logger: logger}
}

func metaKey(datasetID string) string {
	return domain.KeyPrefix + "dataset:" + datasetID
}

// Descriptor returns the dataset's pyramid descriptor, cached.
func (r *Repo) Descriptor(ctx context.Context, datasetID string) (domds.Descriptor, error) {
	key := metaKey(datasetID)

	data, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		desc, parseErr := descriptorFromBytes(data)
		if parseErr == nil {
			return desc, nil
		}
		r.logger.Warn("Corrupt descriptor cache entry",
			zap.String("dataset", datasetID), zap.Error(parseErr))
	case !errors.Is(err, db.ErrKeyNotFound):
		r.logger.Warn("Descriptor cache read failed",
			zap.String("dataset", datasetID), zap.Error(err))
	}

	desc, err := r.tiles.Descriptor(ctx, datasetID)
	if err != nil {
		return domds.Descriptor{}, fmt.Errorf("descriptor %s: %w", datasetID, err)
	}

	if data, err := descriptorToBytes(desc); err == nil {
		if err := r.store.SetWithTTL(ctx, key, data, r.ttl); err != nil {
			r.logger.Warn("Descriptor cache write failed",
				zap.String("dataset", datasetID), zap.Error(err))
		}
	}
	return desc, nil
}

// Invalidate drops the cached descriptor. Called on re-ingest, when the
// dataset's dimensions or tiling may have changed.
func (r *Repo) Invalidate(ctx context.Context, datasetID string) error {
	if err := r.store.Del(ctx, metaKey(datasetID)); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("invalidate descriptor %s: %w", datasetID, err)
	}
	return nil
}

// List returns the dataset ids visible in the tile store.
func (r *Repo) List(ctx context.Context) ([]string, error) {
	ids, err := r.tiles.Datasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return ids, nil
}
