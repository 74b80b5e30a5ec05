// Package extract reconstructs pixel data for arbitrary global-pixel
// bounding boxes. It prefers the dataset's full-resolution source asset and
// falls back to stitching pyramid tiles, walking to coarser levels when
// finer ones have gaps.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	// Tile and source-asset codecs.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/metrics"
	"github.com/deepfield-io/zoomdex/internal/pyramid"
)

// Snippet source kinds.
const (
	SourceAsset    = "asset"
	SourceStitched = "stitched"
)

// Provenance records where a snippet's pixels came from.
type Provenance struct {
	Source    string
	Level     int
	TileCount int
}

// Snippet is the extracted pixel region for a requested bbox. The image is
// opaque NRGBA sized exactly bbox.Width×bbox.Height with bounds at the
// origin.
type Snippet struct {
	Image      *image.NRGBA
	Provenance Provenance
}

// store is the consumer interface over tile storage (ISP).
type store interface {
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
	Tile(ctx context.Context, datasetID string, level, col, row int) ([]byte, error)
	SourceAsset(ctx context.Context, datasetID string) ([]byte, error)
	PutSourceAsset(ctx context.Context, datasetID string, data []byte) error
}

// claims is the consumer interface over the KV store for reconstruction
// claim markers.
type claims interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Config tunes the extractor.
type Config struct {
	// FetchParallelism bounds concurrent tile fetches per stitch.
	FetchParallelism int
	// AssetCacheSize is how many decoded source rasters stay in memory.
	AssetCacheSize int
	// ClaimTTL is the reconstruction claim lifetime in the KV store.
	ClaimTTL time.Duration
	// PollInterval is how often a waiting caller re-checks a concurrent
	// reconstruction.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.FetchParallelism <= 0 {
		c.FetchParallelism = 8
	}
	if c.AssetCacheSize <= 0 {
		c.AssetCacheSize = 1
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Extractor serves region extraction and full-image reconstruction for all
// datasets. Extractions are safely parallel; reconstruction is serialized
// per dataset.
type Extractor struct {
	store  store
	kv     claims
	cfg    Config
	logger *zap.Logger

	assets  *assetCache
	decode  singleflight.Group
	rebuild singleflight.Group
}

// New creates an extractor.
func New(s store, kv claims, cfg Config, logger *zap.Logger) *Extractor {
	cfg.applyDefaults()
	return &Extractor{
		store:  s,
		kv:     kv,
		cfg:    cfg,
		logger: logger,
		assets: newAssetCache(cfg.AssetCacheSize),
	}
}

// Extract returns the best-available pixels for a global-pixel bbox.
// The source asset is used when present; otherwise tiles are stitched,
// starting at the finest level and silently retrying coarser levels until
// one has complete data. A bbox outside the dataset bounds is NotFound.
func (e *Extractor) Extract(ctx context.Context, datasetID string, bbox region.BBox) (Snippet, error) {
	desc, err := e.store.Descriptor(ctx, datasetID)
	if err != nil {
		return Snippet{}, fmt.Errorf("extract %s: %w", datasetID, err)
	}
	grid := pyramid.NewGrid(desc)
	if !bbox.Inside(grid.Width(), grid.Height()) {
		metrics.RegionExtractionsTotal.WithLabelValues(SourceStitched, "error").Inc()
		return Snippet{}, fmt.Errorf("extract %s: bbox %s outside dataset %dx%d: %w",
			datasetID, bbox, grid.Width(), grid.Height(), domain.ErrNotFound)
	}

	if img, err := e.asset(ctx, datasetID, grid); err == nil {
		rect := image.Rect(bbox.X(), bbox.Y(), bbox.Right(), bbox.Bottom())
		snip := Snippet{
			Image:      cropNRGBA(img, rect),
			Provenance: Provenance{Source: SourceAsset, Level: grid.FinestLevel()},
		}
		metrics.RegionExtractionsTotal.WithLabelValues(SourceAsset, "ok").Inc()
		return snip, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		if ctx.Err() != nil {
			return Snippet{}, ctx.Err()
		}
		e.logger.Warn("source asset unusable, stitching tiles",
			zap.String("dataset", datasetID), zap.Error(err))
	}

	for level := grid.FinestLevel(); level >= 0; level-- {
		img, tiles, err := e.stitchRegion(ctx, datasetID, grid, bbox, level)
		if err == nil {
			metrics.RegionExtractionsTotal.WithLabelValues(SourceStitched, "ok").Inc()
			return Snippet{
				Image:      img,
				Provenance: Provenance{Source: SourceStitched, Level: level, TileCount: tiles},
			}, nil
		}
		if ctx.Err() != nil {
			return Snippet{}, ctx.Err()
		}
		if !errors.Is(err, domain.ErrNotFound) {
			metrics.RegionExtractionsTotal.WithLabelValues(SourceStitched, "error").Inc()
			return Snippet{}, fmt.Errorf("extract %s: %w", datasetID, err)
		}
		e.logger.Debug("level incomplete, retrying coarser",
			zap.String("dataset", datasetID), zap.Int("level", level))
	}

	metrics.RegionExtractionsTotal.WithLabelValues(SourceStitched, "error").Inc()
	return Snippet{}, fmt.Errorf("extract %s: no pyramid level covers %s: %w", datasetID, bbox, domain.ErrNotFound)
}

// InvalidateAsset drops the dataset's cached decoded source raster. Called
// after re-ingest so stale pixels never serve.
func (e *Extractor) InvalidateAsset(datasetID string) {
	e.assets.invalidate(datasetID)
}

// asset returns the decoded source raster, decoding at most once across
// concurrent callers. Absence reports NotFound; a raster smaller than the
// descriptor claims is treated as unusable.
func (e *Extractor) asset(ctx context.Context, datasetID string, grid pyramid.Grid) (*image.NRGBA, error) {
	if img, ok := e.assets.get(datasetID); ok {
		return img, nil
	}
	v, err, _ := e.decode.Do(datasetID, func() (interface{}, error) {
		raw, err := e.store.SourceAsset(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		src, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode source asset %s: %w", datasetID, err)
		}
		img := toRGB(src)
		if img.Bounds().Dx() < grid.Width() || img.Bounds().Dy() < grid.Height() {
			return nil, fmt.Errorf("source asset %s is %dx%d, descriptor says %dx%d",
				datasetID, img.Bounds().Dx(), img.Bounds().Dy(), grid.Width(), grid.Height())
		}
		e.assets.put(datasetID, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*image.NRGBA), nil
}

// assetCache keeps a few decoded source rasters. Decoded gigapixel rasters
// are large, so capacity stays small and eviction is oldest-first.
type assetCache struct {
	capacity int
	mu       sync.Mutex
	order    []string
	items    map[string]*image.NRGBA
}

func newAssetCache(capacity int) *assetCache {
	return &assetCache{
		capacity: capacity,
		items:    make(map[string]*image.NRGBA, capacity),
	}
}

func (c *assetCache) get(datasetID string) (*image.NRGBA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.items[datasetID]
	return img, ok
}

func (c *assetCache) put(datasetID string, img *image.NRGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[datasetID]; !ok {
		c.order = append(c.order, datasetID)
	}
	c.items[datasetID] = img
	for len(c.items) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
}

func (c *assetCache) invalidate(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[datasetID]; !ok {
		return
	}
	delete(c.items, datasetID)
	for i, id := range c.order {
		if id == datasetID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
