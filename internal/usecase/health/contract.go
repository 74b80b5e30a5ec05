package health

import (
	"context"

	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// kv checks key-value store connectivity.
type kv interface {
	Ping(ctx context.Context) error
}

// tiles checks tile storage reachability.
type tiles interface {
	Datasets(ctx context.Context) ([]string, error)
}

// encoder checks embedding provider availability.
type encoder interface {
	HealthCheck(ctx context.Context) error
}

// registry reports per-dataset index states.
type registry interface {
	States() map[string]dataset.IndexState
}
