package embcache

import (
	"context"
	"image"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	"github.com/deepfield-io/zoomdex/internal/domain"
)

type mockEncoder struct {
	result     domain.EncodeResult
	err        error
	textCalls  int
	imageCalls int
	healthErr  error
}

func (m *mockEncoder) EncodeText(_ context.Context, _ string) (domain.EncodeResult, error) {
	m.textCalls++
	return m.result, m.err
}

func (m *mockEncoder) EncodeImage(_ context.Context, _ image.Image) (domain.EncodeResult, error) {
	m.imageCalls++
	return m.result, m.err
}

func (m *mockEncoder) HealthCheck(_ context.Context) error {
	return m.healthErr
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func newTestCachedEncoder(t *testing.T, inner *mockEncoder) (*CachedEncoder, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	ce := New(inner, ms, "clip-test", time.Hour, 4, nil, zap.NewNop())
	return ce, ms
}
