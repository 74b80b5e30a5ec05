package resultcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
)

// --- Mocks ---

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

func (m *mockKVStore) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func newTestCache(t *testing.T) (*Cache, *mockKVStore) {
	t.Helper()
	kv := newMockKVStore()
	return New(kv, 300*time.Second, nil, zap.NewNop()), kv
}

// --- Tests ---

func TestGetPut_RoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "m31", "search|galaxy|20|0.6"); ok {
		t.Fatal("hit on an empty cache")
	}

	cache.Put(ctx, "m31", "search|galaxy|20|0.6", []byte(`{"hits":3}`))

	payload, ok := cache.Get(ctx, "m31", "search|galaxy|20|0.6")
	if !ok {
		t.Fatal("miss after put")
	}
	if string(payload) != `{"hits":3}` {
		t.Fatalf("payload = %s", payload)
	}
}

func TestGet_DistinguishesFingerprints(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, "m31", "search|galaxy|20|0.6", []byte("a"))

	if _, ok := cache.Get(ctx, "m31", "search|galaxy|50|0.6"); ok {
		t.Fatal("different k hit the same entry")
	}
	if _, ok := cache.Get(ctx, "sun", "search|galaxy|20|0.6"); ok {
		t.Fatal("different dataset hit the same entry")
	}
}

func TestPut_UsesConfiguredTTL(t *testing.T) {
	cache, kv := newTestCache(t)
	var gotTTL time.Duration
	kv.setFn = func(_ context.Context, _ string, _ []byte, ttl time.Duration) error {
		gotTTL = ttl
		return nil
	}

	cache.Put(context.Background(), "m31", "fp", []byte("x"))
	if gotTTL != 300*time.Second {
		t.Fatalf("ttl = %v, want 300s", gotTTL)
	}
}

func TestFlush_DropsOnlyThatDataset(t *testing.T) {
	cache, kv := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, "m31", "a", []byte("1"))
	cache.Put(ctx, "m31", "b", []byte("2"))
	cache.Put(ctx, "sun", "a", []byte("3"))

	if err := cache.Flush(ctx, "m31"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, ok := cache.Get(ctx, "m31", "a"); ok {
		t.Fatal("flushed entry still served")
	}
	if _, ok := cache.Get(ctx, "m31", "b"); ok {
		t.Fatal("flushed entry still served")
	}
	if _, ok := cache.Get(ctx, "sun", "a"); !ok {
		t.Fatal("flush crossed dataset boundary")
	}
	if len(kv.data) != 1 {
		t.Fatalf("kv entries = %d, want 1", len(kv.data))
	}
}

func TestGet_StoreFailureIsMiss(t *testing.T) {
	cache, kv := newTestCache(t)
	kv.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}

	if _, ok := cache.Get(context.Background(), "m31", "fp"); ok {
		t.Fatal("store failure served a hit")
	}
}

func TestPut_StoreFailureIsSilent(t *testing.T) {
	cache, kv := newTestCache(t)
	kv.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) error {
		return errors.New("connection refused")
	}

	cache.Put(context.Background(), "m31", "fp", []byte("x")) // must not panic
}
