// Package query implements the text-to-region pipelines: probe expansion,
// index lookup, region-proposal scoring, non-max suppression, and the
// result cache read-through shared by search and detect.
package query

import (
	"context"

	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
	"github.com/deepfield-io/zoomdex/internal/index"
)

// descriptors resolves dataset metadata. Existence checks go through here:
// the index registry cannot tell an unknown dataset from a known one that
// was never indexed.
type descriptors interface {
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
}

// snapshots serves ready index snapshots (ISP).
type snapshots interface {
	Snapshot(datasetID string) (*index.Index, error)
}

// pixels extracts region pixels for proposal scoring (ISP).
type pixels interface {
	Extract(ctx context.Context, datasetID string, bbox region.BBox) (extract.Snippet, error)
}

// results caches finished outcomes as opaque payloads (ISP).
type results interface {
	Get(ctx context.Context, datasetID, fingerprint string) ([]byte, bool)
	Put(ctx context.Context, datasetID, fingerprint string, payload []byte)
}
