// Package tilestore defines the storage port for tile pyramids and their
// source assets, plus backend-agnostic helpers shared by the drivers.
//
// A dataset is laid out as:
//
//	<dataset>/info.dzi            XML descriptor (dimensions, tile size, format)
//	<dataset>/<level>/<col>_<row>.<format>
//	<dataset>/source.png          optional full-resolution source asset
//
// Level 0 is the coarsest level; the finest level is 1:1 with the nominal
// image dimensions. Edge tiles are clipped, never padded.
package tilestore

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// DescriptorFile is the per-dataset pyramid descriptor name.
const DescriptorFile = "info.dzi"

// SourceAssetName is the file name used when persisting a source asset.
// Reads also accept the other entries in SourceAssetCandidates so that
// operator-seeded assets in common formats are picked up.
const SourceAssetName = "source.png"

// SourceAssetCandidates lists accepted source-asset file names, in probe order.
var SourceAssetCandidates = []string{"source.png", "source.jpg", "source.jpeg", "source.webp"}

// Store provides access to a dataset's tile pyramid and its optional
// full-resolution source asset. Missing datasets, tiles and assets are
// reported with domain.ErrNotFound in the error chain.
type Store interface {
	// Descriptor reads and parses the dataset's pyramid descriptor.
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
	// Tile returns the encoded bytes of one tile.
	Tile(ctx context.Context, datasetID string, level, col, row int) ([]byte, error)
	// SourceAsset returns the encoded full-resolution source image, if any.
	SourceAsset(ctx context.Context, datasetID string) ([]byte, error)
	// PutSourceAsset persists data as the dataset's source asset.
	PutSourceAsset(ctx context.Context, datasetID string, data []byte) error
	// Datasets lists the dataset ids present in the store.
	Datasets(ctx context.Context) ([]string, error)
}

// TileKey returns the slash-separated storage key of a tile relative to the
// store root. Filesystem drivers convert separators as needed.
func TileKey(datasetID string, level, col, row int, format string) string {
	return path.Join(datasetID, strconv.Itoa(level), fmt.Sprintf("%d_%d.%s", col, row, format))
}
