// Package fs implements the tile store over a local directory tree.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/tilestore"
)

// Store reads tile pyramids from a directory laid out as
// <root>/<dataset>/<level>/<col>_<row>.<format> with an info.dzi
// descriptor per dataset.
type Store struct {
	root string

	mu    sync.Mutex
	descs map[string]dataset.Descriptor
}

// NewStore creates a filesystem tile store rooted at dir.
func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("tile root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tile root %s is not a directory", dir)
	}
	return &Store{
		root:  dir,
		descs: make(map[string]dataset.Descriptor),
	}, nil
}

// Descriptor reads and parses <dataset>/info.dzi. Parsed descriptors are
// memoized per dataset.
func (s *Store) Descriptor(_ context.Context, datasetID string) (dataset.Descriptor, error) {
	s.mu.Lock()
	desc, ok := s.descs[datasetID]
	s.mu.Unlock()
	if ok {
		return desc, nil
	}

	data, err := os.ReadFile(filepath.Join(s.root, datasetID, tilestore.DescriptorFile))
	if err != nil {
		if os.IsNotExist(err) {
			return dataset.Descriptor{}, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrNotFound)
		}
		return dataset.Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	desc, err = tilestore.ParseDZI(datasetID, data)
	if err != nil {
		return dataset.Descriptor{}, err
	}

	s.mu.Lock()
	s.descs[datasetID] = desc
	s.mu.Unlock()
	return desc, nil
}

// Tile returns the encoded bytes of one tile.
func (s *Store) Tile(ctx context.Context, datasetID string, level, col, row int) ([]byte, error) {
	desc, err := s.Descriptor(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	key := tilestore.TileKey(datasetID, level, col, row, desc.Format())
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("tile %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read tile %s: %w", key, err)
	}
	return data, nil
}

// SourceAsset returns the dataset's full-resolution source image, probing
// the accepted asset names in order.
func (s *Store) SourceAsset(_ context.Context, datasetID string) ([]byte, error) {
	for _, name := range tilestore.SourceAssetCandidates {
		data, err := os.ReadFile(filepath.Join(s.root, datasetID, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read source asset: %w", err)
		}
	}
	return nil, fmt.Errorf("source asset for %s: %w", datasetID, domain.ErrNotFound)
}

// PutSourceAsset writes the source asset atomically (temp file + rename).
func (s *Store) PutSourceAsset(_ context.Context, datasetID string, data []byte) error {
	dir := filepath.Join(s.root, datasetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write source asset: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tilestore.SourceAssetName+".tmp-*")
	if err != nil {
		return fmt.Errorf("write source asset: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write source asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write source asset: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, tilestore.SourceAssetName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write source asset: %w", err)
	}
	return nil
}

// Datasets lists directories under the root that carry a descriptor.
func (s *Store) Datasets(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), tilestore.DescriptorFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// BlobStore is a flat object store over a local directory, used for index
// segments.
type BlobStore struct {
	root string
}

// NewBlobStore creates the directory if needed and returns a BlobStore.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob root: %w", err)
	}
	return &BlobStore{root: dir}, nil
}

// GetBlob reads a named blob.
func (b *BlobStore) GetBlob(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	return data, nil
}

// PutBlob writes a named blob atomically.
func (b *BlobStore) PutBlob(_ context.Context, name string, data []byte) error {
	p := filepath.Join(b.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	return nil
}

// DeleteBlob removes a named blob. Deleting a missing blob is not an error.
func (b *BlobStore) DeleteBlob(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(b.root, filepath.FromSlash(name)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}
