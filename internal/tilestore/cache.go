package tilestore

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/metrics"
)

// CachedStore wraps a Store with an in-process LRU over encoded tile bytes.
// Tiles are immutable once written, so entries only leave the cache by
// eviction or by an explicit per-dataset Invalidate after re-ingest.
type CachedStore struct {
	inner Store

	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[tileKey]*list.Element
	evicts   *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type tileKey struct {
	dataset         string
	level, col, row int
}

type tileEntry struct {
	key  tileKey
	data []byte
}

// NewCachedStore creates a tile cache with the given capacity in bytes.
func NewCachedStore(inner Store, capacityBytes int64) *CachedStore {
	return &CachedStore{
		inner:    inner,
		capacity: capacityBytes,
		items:    make(map[tileKey]*list.Element),
		evicts:   list.New(),
	}
}

// Tile returns the cached tile bytes, falling through to the inner store.
func (c *CachedStore) Tile(ctx context.Context, datasetID string, level, col, row int) ([]byte, error) {
	key := tileKey{datasetID, level, col, row}

	c.mu.Lock()
	if ent, ok := c.items[key]; ok {
		c.evicts.MoveToFront(ent)
		data := ent.Value.(*tileEntry).data
		c.mu.Unlock()
		c.hits.Add(1)
		metrics.TileCacheTotal.WithLabelValues("hit").Inc()
		return data, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)
	metrics.TileCacheTotal.WithLabelValues("miss").Inc()

	data, err := c.inner.Tile(ctx, datasetID, level, col, row)
	if err != nil {
		return nil, err
	}
	c.add(key, data)
	return data, nil
}

func (c *CachedStore) add(key tileKey, data []byte) {
	itemSize := int64(len(data))
	if itemSize > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evicts.MoveToFront(ent)
		return
	}
	for c.size+itemSize > c.capacity {
		back := c.evicts.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
	c.items[key] = c.evicts.PushFront(&tileEntry{key: key, data: data})
	c.size += itemSize
}

func (c *CachedStore) removeElement(e *list.Element) {
	c.evicts.Remove(e)
	ent := e.Value.(*tileEntry)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.data))
}

// Invalidate drops every cached tile of the given dataset.
func (c *CachedStore) Invalidate(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, ent := range c.items {
		if key.dataset == datasetID {
			toRemove = append(toRemove, ent)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

// Stats returns cumulative hit and miss counts.
func (c *CachedStore) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the current cache size in bytes.
func (c *CachedStore) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Descriptor delegates to the inner store.
func (c *CachedStore) Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error) {
	return c.inner.Descriptor(ctx, datasetID)
}

// SourceAsset delegates to the inner store. Assets are not cached: a single
// full-resolution raster can dwarf the whole tile budget.
func (c *CachedStore) SourceAsset(ctx context.Context, datasetID string) ([]byte, error) {
	return c.inner.SourceAsset(ctx, datasetID)
}

// PutSourceAsset delegates to the inner store.
func (c *CachedStore) PutSourceAsset(ctx context.Context, datasetID string, data []byte) error {
	return c.inner.PutSourceAsset(ctx, datasetID, data)
}

// Datasets delegates to the inner store.
func (c *CachedStore) Datasets(ctx context.Context) ([]string, error) {
	return c.inner.Datasets(ctx)
}
