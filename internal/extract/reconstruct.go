package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/metrics"
	"github.com/deepfield-io/zoomdex/internal/pyramid"
)

// AssetInfo describes a dataset's persisted full-resolution source asset.
type AssetInfo struct {
	DatasetID string
	Width     int
	Height    int
	SizeBytes int
	// Created is false when the asset already existed and no stitching ran.
	Created bool
}

// ReconstructFullImage stitches every finest-level tile into one raster and
// persists it as the dataset's source asset, so later extractions take the
// O(1) crop path. Idempotent: an existing asset is returned as-is. At most
// one reconstruction runs per dataset across the whole deployment; callers
// that find one in flight wait for and reuse its result.
func (e *Extractor) ReconstructFullImage(ctx context.Context, datasetID string) (AssetInfo, error) {
	v, err, _ := e.rebuild.Do(datasetID, func() (interface{}, error) {
		return e.reconstruct(ctx, datasetID)
	})
	if err != nil {
		return AssetInfo{}, err
	}
	return v.(AssetInfo), nil
}

func (e *Extractor) reconstruct(ctx context.Context, datasetID string) (AssetInfo, error) {
	desc, err := e.store.Descriptor(ctx, datasetID)
	if err != nil {
		return AssetInfo{}, fmt.Errorf("reconstruct %s: %w", datasetID, err)
	}

	if info, ok, err := e.assetProbe(ctx, datasetID); err != nil {
		return AssetInfo{}, fmt.Errorf("reconstruct %s: %w", datasetID, err)
	} else if ok {
		return info, nil
	}

	// Cross-replica guard: one claim holder stitches, everyone else polls
	// for the asset it will persist. An expired claim (crashed holder) is
	// taken over on the next loop.
	claimKey := domain.KeyPrefix + "reconstruct:" + datasetID
	for {
		claimed, err := e.kv.SetNX(ctx, claimKey, []byte("1"), e.cfg.ClaimTTL)
		if err != nil {
			return AssetInfo{}, fmt.Errorf("reconstruct %s: claim: %w", datasetID, err)
		}
		if claimed {
			break
		}
		select {
		case <-ctx.Done():
			return AssetInfo{}, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
		if info, ok, err := e.assetProbe(ctx, datasetID); err != nil {
			return AssetInfo{}, fmt.Errorf("reconstruct %s: %w", datasetID, err)
		} else if ok {
			return info, nil
		}
	}
	defer func() {
		if err := e.kv.Del(context.Background(), claimKey); err != nil {
			e.logger.Warn("reconstruction claim release failed, TTL will expire it",
				zap.String("dataset", datasetID), zap.Error(err))
		}
	}()

	grid := pyramid.NewGrid(desc)
	full := region.Reconstruct(0, 0, grid.Width(), grid.Height())
	raster, tiles, err := e.stitchRegion(ctx, datasetID, grid, full, grid.FinestLevel())
	if err != nil {
		metrics.ReconstructionsTotal.WithLabelValues("error").Inc()
		return AssetInfo{}, fmt.Errorf("reconstruct %s: %w", datasetID, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		metrics.ReconstructionsTotal.WithLabelValues("error").Inc()
		return AssetInfo{}, fmt.Errorf("reconstruct %s: encode: %w", datasetID, err)
	}
	if err := e.store.PutSourceAsset(ctx, datasetID, buf.Bytes()); err != nil {
		metrics.ReconstructionsTotal.WithLabelValues("error").Inc()
		return AssetInfo{}, fmt.Errorf("reconstruct %s: persist: %w", datasetID, err)
	}
	e.assets.put(datasetID, raster)

	metrics.ReconstructionsTotal.WithLabelValues("ok").Inc()
	e.logger.Info("full image reconstructed",
		zap.String("dataset", datasetID),
		zap.Int("width", grid.Width()),
		zap.Int("height", grid.Height()),
		zap.Int("tiles", tiles),
		zap.Int("bytes", buf.Len()))
	return AssetInfo{
		DatasetID: datasetID,
		Width:     grid.Width(),
		Height:    grid.Height(),
		SizeBytes: buf.Len(),
		Created:   true,
	}, nil
}

// assetProbe reports whether a usable source asset already exists. A
// corrupt asset reads as absent so reconstruction overwrites it.
func (e *Extractor) assetProbe(ctx context.Context, datasetID string) (AssetInfo, bool, error) {
	raw, err := e.store.SourceAsset(ctx, datasetID)
	if errors.Is(err, domain.ErrNotFound) {
		return AssetInfo{}, false, nil
	}
	if err != nil {
		return AssetInfo{}, false, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		e.logger.Warn("existing source asset undecodable, restitching",
			zap.String("dataset", datasetID), zap.Error(err))
		return AssetInfo{}, false, nil
	}
	return AssetInfo{
		DatasetID: datasetID,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: len(raw),
	}, true, nil
}
