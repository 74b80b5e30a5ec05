package dataset

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	"github.com/deepfield-io/zoomdex/internal/domain"
	domds "github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

type mockTiles struct {
	descs     map[string]domds.Descriptor
	ids       []string
	descCalls int
	listErr   error
}

func (m *mockTiles) Descriptor(_ context.Context, datasetID string) (domds.Descriptor, error) {
	m.descCalls++
	d, ok := m.descs[datasetID]
	if !ok {
		return domds.Descriptor{}, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrNotFound)
	}
	return d, nil
}

func (m *mockTiles) Datasets(_ context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.ids, nil
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	data  map[string][]byte
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func newMockKVStore() *mockKVStore {
	return &mockKVStore{data: map[string][]byte{}}
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	data, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return data, nil
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	m.data[key] = value
	return nil
}

func (m *mockKVStore) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func testDescriptor(t *testing.T, id string) domds.Descriptor {
	t.Helper()
	d, err := domds.New(id, 1000, 800, 256, 0, "jpg")
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return d
}

func newTestRepo(t *testing.T) (*Repo, *mockTiles, *mockKVStore) {
	t.Helper()
	tiles := &mockTiles{descs: map[string]domds.Descriptor{
		"m31": testDescriptor(t, "m31"),
	}}
	kv := newMockKVStore()
	return New(tiles, kv, time.Hour, zap.NewNop()), tiles, kv
}
