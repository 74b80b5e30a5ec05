// Package minio implements the tile store over MinIO and S3-compatible
// object storage.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/tilestore"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Store reads tile pyramids from an object storage bucket using the same
// key layout as the filesystem driver, under an optional root prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string

	mu    sync.Mutex
	descs map[string]dataset.Descriptor
}

// NewStore connects to the endpoint and returns a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage bucket is required")
	}
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return NewStoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewStoreWithClient wraps an existing client (used by tests and by callers
// that share one client across stores).
func NewStoreWithClient(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		descs:  make(map[string]dataset.Descriptor),
	}
}

// Client exposes the underlying connection so callers can build sibling
// stores (for example a BlobStore) against the same endpoint.
func (s *Store) Client() *minio.Client {
	return s.client
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

// Descriptor reads and parses <dataset>/info.dzi. Parsed descriptors are
// memoized per dataset.
func (s *Store) Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error) {
	s.mu.Lock()
	desc, ok := s.descs[datasetID]
	s.mu.Unlock()
	if ok {
		return desc, nil
	}

	data, err := s.get(ctx, s.key(path.Join(datasetID, tilestore.DescriptorFile)))
	if err != nil {
		if isMissing(err) {
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
	data, err := s.get(ctx, s.key(key))
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("tile %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read tile %s: %w", key, err)
	}
	return data, nil
}

// SourceAsset returns the dataset's full-resolution source image, probing
// the accepted asset names in order.
func (s *Store) SourceAsset(ctx context.Context, datasetID string) ([]byte, error) {
	for _, name := range tilestore.SourceAssetCandidates {
		data, err := s.get(ctx, s.key(path.Join(datasetID, name)))
		if err == nil {
			return data, nil
		}
		if !isMissing(err) {
			return nil, fmt.Errorf("read source asset: %w", err)
		}
	}
	return nil, fmt.Errorf("source asset for %s: %w", datasetID, domain.ErrNotFound)
}

// PutSourceAsset persists the source asset. Object writes are atomic on
// S3-compatible backends.
func (s *Store) PutSourceAsset(ctx context.Context, datasetID string, data []byte) error {
	key := s.key(path.Join(datasetID, tilestore.SourceAssetName))
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return fmt.Errorf("write source asset: %w", err)
	}
	return nil
}

// Datasets lists dataset ids by scanning for descriptor objects.
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	listPrefix := s.prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	var ids []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list datasets: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if dir, file := path.Split(name); file == tilestore.DescriptorFile {
			ids = append(ids, strings.TrimSuffix(dir, "/"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// BlobStore is a flat object store over a bucket prefix, used for index
// segments.
type BlobStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewBlobStore wraps a client as a flat blob store.
func NewBlobStore(client *minio.Client, bucket, prefix string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket, prefix: prefix}
}

// GetBlob reads a named blob.
func (b *BlobStore) GetBlob(ctx context.Context, name string) ([]byte, error) {
	key := path.Join(b.prefix, name)
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("blob %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	return data, nil
}

// PutBlob writes a named blob.
func (b *BlobStore) PutBlob(ctx context.Context, name string, data []byte) error {
	key := path.Join(b.prefix, name)
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	return nil
}

// DeleteBlob removes a named blob. Deleting a missing blob is not an error.
func (b *BlobStore) DeleteBlob(ctx context.Context, name string) error {
	key := path.Join(b.prefix, name)
	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isMissing(err) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}
