// Package ingest runs index build jobs. A build samples quality patches
// from the dataset's pyramid, encodes them in batches, fills a fresh index,
// persists the segment blob and swaps the registry snapshot to ready.
// Builds run in the background; callers poll the returned job. The package
// also owns the re-ingest hook that invalidates a dataset's derived state.
package ingest

import (
	"context"

	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/index"
	"github.com/deepfield-io/zoomdex/internal/sample"
)

// descriptors is the consumer interface over the dataset repository (ISP).
type descriptors interface {
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
	List(ctx context.Context) ([]string, error)
}

// sampler is the consumer interface over the patch sampler.
type sampler interface {
	Stream(ctx context.Context, datasetID string, opts sample.Options) (*sample.Stream, error)
}

// registry is the consumer interface over the per-dataset index lifecycle.
type registry interface {
	BeginBuild(datasetID string) error
	Complete(datasetID string, idx *index.Index)
	Fail(datasetID string)
	Invalidate(datasetID string)
	State(datasetID string) dataset.IndexState
}

// results is the consumer interface over the query result cache.
type results interface {
	Flush(ctx context.Context, datasetID string) error
}

// metadata is the consumer interface over cached dataset metadata.
type metadata interface {
	Invalidate(ctx context.Context, datasetID string) error
}

// assets is the consumer interface over the extractor's decoded-asset cache.
type assets interface {
	InvalidateAsset(datasetID string)
}
