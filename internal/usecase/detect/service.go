// Package detect exposes detection as a thin service over the query
// engine: raw caller parameters in, validated outcome out. NotFound,
// NotReady, and InvalidInput propagate untouched; per-candidate scoring
// failures never surface here because the engine drops them.
package detect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
)

// engine is the detection pipeline (ISP).
type engine interface {
	Detect(ctx context.Context, datasetID string, req domquery.DetectRequest) (domquery.DetectOutcome, error)
}

// Service validates raw detection parameters and delegates to the engine.
type Service struct {
	engine engine
	logger *zap.Logger
}

// New creates the detection service.
func New(e engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: e, logger: logger}
}

// Detect localizes queryText in the dataset. A zero threshold selects the
// default cutoff; maxResults is clamped upstream of the pipeline.
func (s *Service) Detect(ctx context.Context, datasetID, queryText string, threshold float64, maxResults int) (domquery.DetectOutcome, error) {
	req, err := domquery.NewDetectRequest(queryText, threshold, maxResults)
	if err != nil {
		return domquery.DetectOutcome{}, fmt.Errorf("detect request: %w", err)
	}

	out, err := s.engine.Detect(ctx, datasetID, req)
	if err != nil {
		return domquery.DetectOutcome{}, err
	}
	if out.Cancelled {
		s.logger.Debug("Detection cancelled",
			zap.String("dataset", datasetID), zap.String("query", req.Text()))
	}
	return out, nil
}
