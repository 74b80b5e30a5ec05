package chi

import (
	"context"

	"github.com/deepfield-io/zoomdex/internal/domain/build"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
	healthuc "github.com/deepfield-io/zoomdex/internal/usecase/health"
)

// datasets is the consumer interface over dataset metadata (ISP).
type datasets interface {
	List(ctx context.Context) ([]string, error)
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
}

// pixels is the consumer interface over the region extractor.
type pixels interface {
	Extract(ctx context.Context, datasetID string, bbox region.BBox) (extract.Snippet, error)
	ReconstructFullImage(ctx context.Context, datasetID string) (extract.AssetInfo, error)
}

// searcher is the consumer interface over the query engine.
type searcher interface {
	Search(ctx context.Context, datasetID string, req domquery.SearchRequest) (domquery.Outcome, error)
}

// detector is the consumer interface over the detection service.
type detector interface {
	Detect(ctx context.Context, datasetID, queryText string, threshold float64, maxResults int) (domquery.DetectOutcome, error)
}

// classifier is the consumer interface over the classification service.
type classifier interface {
	Classify(ctx context.Context, datasetID string, bbox region.BBox) domquery.Classification
}

// indexer is the consumer interface over the ingest service.
type indexer interface {
	BuildIndex(ctx context.Context, datasetID string) (build.Job, error)
	Status(datasetID string) (build.Job, bool)
	IndexState(datasetID string) dataset.IndexState
	Invalidate(ctx context.Context, datasetID string) error
}

// checker is the consumer interface over the health service.
type checker interface {
	Check(ctx context.Context) healthuc.Report
}
