package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/build"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/index"
	"github.com/deepfield-io/zoomdex/internal/metrics"
	"github.com/deepfield-io/zoomdex/internal/sample"
)

// DefaultEncodeBatch is how many patch images go to the encoder per call
// when Params leaves it unset.
const DefaultEncodeBatch = 16

// Params tunes index builds.
type Params struct {
	// Sample configures the patch sampling pass.
	Sample sample.Options
	// EncodeBatch is the number of patch images per encoder call.
	EncodeBatch int
	// Model tags persisted segments with the embedding model that produced
	// their vectors, so restores can flag mismatches after a model change.
	Model string
}

func (p *Params) applyDefaults() {
	if p.EncodeBatch <= 0 {
		p.EncodeBatch = DefaultEncodeBatch
	}
}

// Service owns index build jobs and dataset invalidation.
type Service struct {
	store   descriptors
	samples sampler
	encoder domain.ImageEncoder
	reg     registry
	blobs   index.BlobStore
	res     results
	meta    metadata
	ext     assets
	params  Params
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string]*build.Job // latest job per dataset
	seq  uint64
	wg   sync.WaitGroup
}

// New creates the ingest service.
func New(
	store descriptors, samples sampler, encoder domain.ImageEncoder,
	reg registry, blobs index.BlobStore,
	res results, meta metadata, ext assets,
	params Params, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	params.applyDefaults()
	return &Service{
		store:   store,
		samples: samples,
		encoder: encoder,
		reg:     reg,
		blobs:   blobs,
		res:     res,
		meta:    meta,
		ext:     ext,
		params:  params,
		logger:  logger,
		jobs:    make(map[string]*build.Job),
	}
}

// BuildIndex claims the dataset and starts a background build, returning
// the queued job. Unknown datasets report NotFound; a build already running
// reports ErrAlreadyIndexing. The build itself outlives ctx.
func (s *Service) BuildIndex(ctx context.Context, datasetID string) (build.Job, error) {
	if datasetID == "" {
		return build.Job{}, domain.NewValidation("dataset", "must not be empty")
	}
	desc, err := s.store.Descriptor(ctx, datasetID)
	if err != nil {
		return build.Job{}, fmt.Errorf("descriptor %s: %w", datasetID, err)
	}
	if err := s.reg.BeginBuild(datasetID); err != nil {
		return build.Job{}, fmt.Errorf("begin build: %w", err)
	}

	s.mu.Lock()
	s.seq++
	job := &build.Job{
		ID:        fmt.Sprintf("%s-build-%d", datasetID, s.seq),
		DatasetID: datasetID,
		Status:    build.StatusQueued,
		StartedAt: time.Now().UTC(),
	}
	s.jobs[datasetID] = job
	snap := *job
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), snap.ID, datasetID, desc)

	return snap, nil
}

// Status returns the most recent build job of the dataset.
func (s *Service) Status(datasetID string) (build.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[datasetID]
	if !ok {
		return build.Job{}, false
	}
	return *j, true
}

// IndexState returns the dataset's registry state.
func (s *Service) IndexState(datasetID string) dataset.IndexState {
	return s.reg.State(datasetID)
}

// Wait blocks until every running build has finished. Called on shutdown.
func (s *Service) Wait() { s.wg.Wait() }

// Invalidate is the re-ingest hook: the registry entry leaves ready, cached
// query results, dataset metadata and the decoded source asset are flushed,
// and the persisted segment is dropped. Unknown datasets report NotFound.
func (s *Service) Invalidate(ctx context.Context, datasetID string) error {
	if datasetID == "" {
		return domain.NewValidation("dataset", "must not be empty")
	}
	if _, err := s.store.Descriptor(ctx, datasetID); err != nil {
		return fmt.Errorf("descriptor %s: %w", datasetID, err)
	}

	s.reg.Invalidate(datasetID)
	if err := s.res.Flush(ctx, datasetID); err != nil {
		s.logger.Warn("flush results", zap.String("dataset", datasetID), zap.Error(err))
	}
	if err := s.meta.Invalidate(ctx, datasetID); err != nil {
		s.logger.Warn("invalidate metadata", zap.String("dataset", datasetID), zap.Error(err))
	}
	s.ext.InvalidateAsset(datasetID)
	if err := index.Drop(ctx, s.blobs, datasetID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("drop segment", zap.String("dataset", datasetID), zap.Error(err))
	}
	metrics.IndexedVectors.DeleteLabelValues(datasetID)

	s.logger.Info("dataset invalidated", zap.String("dataset", datasetID))
	return nil
}

// RestoreAll loads the persisted segment of every dataset in the store and
// installs it as the ready snapshot. Datasets without a segment stay not
// indexed; undecodable segments are skipped with a warning.
func (s *Service) RestoreAll(ctx context.Context) error {
	ids, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}

	restored := 0
	for _, id := range ids {
		idx, model, err := index.Load(ctx, s.blobs, id)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("restore segment", zap.String("dataset", id), zap.Error(err))
			}
			continue
		}
		if s.params.Model != "" && model != s.params.Model {
			s.logger.Warn("segment encoded with a different model, rebuild recommended",
				zap.String("dataset", id),
				zap.String("segment_model", model),
				zap.String("configured_model", s.params.Model))
		}
		s.reg.Complete(id, idx)
		metrics.IndexedVectors.WithLabelValues(id).Set(float64(idx.Len()))
		restored++
		s.logger.Info("index restored",
			zap.String("dataset", id), zap.Int("vectors", idx.Len()))
	}
	if restored > 0 {
		s.logger.Info("index restore finished", zap.Int("datasets", restored))
	}
	return nil
}

// run executes one build to completion and records its outcome.
func (s *Service) run(ctx context.Context, jobID, datasetID string, desc dataset.Descriptor) {
	defer s.wg.Done()
	timer := prometheus.NewTimer(metrics.IndexBuildDuration)
	defer timer.ObserveDuration()

	s.setStatus(datasetID, build.StatusIndexing)
	s.logger.Info("index build started",
		zap.String("dataset", datasetID), zap.String("job", jobID))

	idx, report, err := s.build(ctx, datasetID, desc)
	if err == nil {
		err = index.Save(ctx, s.blobs, datasetID, idx, s.params.Model)
	}
	if err != nil {
		s.reg.Fail(datasetID)
		s.finish(datasetID, report, err)
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		s.logger.Error("index build failed",
			zap.String("dataset", datasetID), zap.String("job", jobID), zap.Error(err))
		return
	}

	s.reg.Complete(datasetID, idx)
	if err := s.res.Flush(ctx, datasetID); err != nil {
		s.logger.Warn("flush results after build",
			zap.String("dataset", datasetID), zap.Error(err))
	}
	metrics.IndexedVectors.WithLabelValues(datasetID).Set(float64(idx.Len()))
	metrics.IndexBuildsTotal.WithLabelValues("ok").Inc()
	s.finish(datasetID, report, nil)

	s.logger.Info("index build completed",
		zap.String("dataset", datasetID),
		zap.String("job", jobID),
		zap.Int("sampled", report.Sampled),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.Skipped))
}

func (s *Service) setStatus(datasetID string, status build.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[datasetID]; ok {
		j.Status = status
	}
}

// finish marks the dataset's job terminal and attaches the report.
func (s *Service) finish(datasetID string, report *build.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[datasetID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.Report = report
	if err != nil {
		j.Status = build.StatusError
		j.Error = err.Error()
		return
	}
	j.Status = build.StatusReady
}
