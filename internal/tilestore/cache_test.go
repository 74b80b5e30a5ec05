package tilestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// --- Mocks ---

type stubStore struct {
	tiles     map[string][]byte
	tileCalls int
}

func (s *stubStore) Descriptor(_ context.Context, id string) (dataset.Descriptor, error) {
	return dataset.New(id, 1024, 1024, 256, 0, "jpg")
}

func (s *stubStore) Tile(_ context.Context, id string, level, col, row int) ([]byte, error) {
	s.tileCalls++
	key := TileKey(id, level, col, row, "jpg")
	data, ok := s.tiles[key]
	if !ok {
		return nil, fmt.Errorf("tile %s: %w", key, domain.ErrNotFound)
	}
	return data, nil
}

func (s *stubStore) SourceAsset(_ context.Context, _ string) ([]byte, error) {
	return nil, domain.ErrNotFound
}

func (s *stubStore) PutSourceAsset(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (s *stubStore) Datasets(_ context.Context) ([]string, error) {
	return []string{"d"}, nil
}

// --- Tests ---

func TestCachedStore_SecondReadHitsCache(t *testing.T) {
	inner := &stubStore{tiles: map[string][]byte{
		"d/2/0_0.jpg": []byte("tiledata"),
	}}
	c := NewCachedStore(inner, 1<<20)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		data, err := c.Tile(ctx, "d", 2, 0, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "tiledata" {
			t.Fatalf("unexpected data %q", data)
		}
	}
	if inner.tileCalls != 1 {
		t.Errorf("expected 1 inner fetch, got %d", inner.tileCalls)
	}
	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits 1 miss, got %d/%d", hits, misses)
	}
}

func TestCachedStore_MissError(t *testing.T) {
	inner := &stubStore{tiles: map[string][]byte{}}
	c := NewCachedStore(inner, 1<<20)

	_, err := c.Tile(context.Background(), "d", 0, 0, 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCachedStore_EvictsAtCapacity(t *testing.T) {
	inner := &stubStore{tiles: map[string][]byte{
		"d/0/0_0.jpg": make([]byte, 600),
		"d/0/1_0.jpg": make([]byte, 600),
	}}
	c := NewCachedStore(inner, 1000)

	ctx := context.Background()
	if _, err := c.Tile(ctx, "d", 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Tile(ctx, "d", 0, 1, 0); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 600 {
		t.Errorf("expected only the newest tile resident, size %d", c.Size())
	}

	// The first tile was evicted, so this is a second inner fetch.
	if _, err := c.Tile(ctx, "d", 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if inner.tileCalls != 3 {
		t.Errorf("expected 3 inner fetches, got %d", inner.tileCalls)
	}
}

func TestCachedStore_OversizedTileNotCached(t *testing.T) {
	inner := &stubStore{tiles: map[string][]byte{
		"d/0/0_0.jpg": make([]byte, 2048),
	}}
	c := NewCachedStore(inner, 1000)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Tile(ctx, "d", 0, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	if inner.tileCalls != 2 {
		t.Errorf("expected every read to fetch, got %d calls", inner.tileCalls)
	}
	if c.Size() != 0 {
		t.Errorf("expected empty cache, size %d", c.Size())
	}
}

func TestCachedStore_InvalidateDataset(t *testing.T) {
	inner := &stubStore{tiles: map[string][]byte{
		"a/0/0_0.jpg": []byte("aaa"),
		"b/0/0_0.jpg": []byte("bbb"),
	}}
	c := NewCachedStore(inner, 1<<20)

	ctx := context.Background()
	if _, err := c.Tile(ctx, "a", 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Tile(ctx, "b", 0, 0, 0); err != nil {
		t.Fatal(err)
	}

	c.Invalidate("a")

	if _, err := c.Tile(ctx, "a", 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Tile(ctx, "b", 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	// a was refetched after invalidation, b stayed cached.
	if inner.tileCalls != 3 {
		t.Errorf("expected 3 inner fetches, got %d", inner.tileCalls)
	}
}
