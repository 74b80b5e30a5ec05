package index

import (
	"context"
	"fmt"
)

// BlobStore persists index segments. Implementations live in the tile
// storage drivers; a missing blob maps to the storage ErrNotFound.
type BlobStore interface {
	GetBlob(ctx context.Context, name string) ([]byte, error)
	PutBlob(ctx context.Context, name string, data []byte) error
	DeleteBlob(ctx context.Context, name string) error
}

// Save encodes the index and writes it as the dataset's segment blob.
func Save(ctx context.Context, blobs BlobStore, datasetID string, x *Index, model string) error {
	data, err := EncodeSegment(x, model)
	if err != nil {
		return fmt.Errorf("save segment %s: %w", datasetID, err)
	}
	if err := blobs.PutBlob(ctx, SegmentName(datasetID), data); err != nil {
		return fmt.Errorf("save segment %s: %w", datasetID, err)
	}
	return nil
}

// Load reads and decodes the dataset's segment blob.
func Load(ctx context.Context, blobs BlobStore, datasetID string) (*Index, string, error) {
	data, err := blobs.GetBlob(ctx, SegmentName(datasetID))
	if err != nil {
		return nil, "", fmt.Errorf("load segment %s: %w", datasetID, err)
	}
	idx, model, err := DecodeSegment(data)
	if err != nil {
		return nil, "", fmt.Errorf("load segment %s: %w", datasetID, err)
	}
	return idx, model, nil
}

// Drop deletes the dataset's segment blob. Missing blobs are not an error.
func Drop(ctx context.Context, blobs BlobStore, datasetID string) error {
	if err := blobs.DeleteBlob(ctx, SegmentName(datasetID)); err != nil {
		return fmt.Errorf("drop segment %s: %w", datasetID, err)
	}
	return nil
}
