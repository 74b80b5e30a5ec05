package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/build"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/domain/patch"
	"github.com/deepfield-io/zoomdex/internal/index"
	"github.com/deepfield-io/zoomdex/internal/sample"
)

// build runs the sampling pass and assembles the index. A failing patch is
// skipped and counted; a failing stream aborts the build. An index of zero
// vectors is a failed build.
func (s *Service) build(ctx context.Context, datasetID string, desc dataset.Descriptor) (*index.Index, *build.Report, error) {
	report := &build.Report{}

	stream, err := s.samples.Stream(ctx, datasetID, s.params.Sample)
	if err != nil {
		return nil, report, fmt.Errorf("sample %s: %w", datasetID, err)
	}

	b := &assembler{svc: s, desc: desc, report: report}
	for stream.Next() {
		b.stage(stream.Patch())
		if len(b.staged) >= s.params.EncodeBatch {
			if err := b.flush(ctx); err != nil {
				return nil, report, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, report, fmt.Errorf("sample %s: %w", datasetID, err)
	}
	if err := b.flush(ctx); err != nil {
		return nil, report, err
	}

	if b.idx == nil || b.idx.Len() == 0 {
		return nil, report, errors.New("no patches survived sampling and encoding")
	}
	return b.idx, report, nil
}

// encodeBatch vectorizes one batch of patch images. A provider with native
// batching gets a single call; otherwise, or when the batch call fails,
// images are encoded one at a time so a bad patch drops alone. Failed slots
// carry their error, successful ones their vector.
func (s *Service) encodeBatch(ctx context.Context, imgs []image.Image) ([][]float32, []error) {
	errs := make([]error, len(imgs))

	if be, ok := s.encoder.(domain.BatchImageEncoder); ok {
		res, err := be.BatchEncodeImage(ctx, imgs)
		if err == nil && len(res.Vectors) == len(imgs) {
			return res.Vectors, errs
		}
		if err != nil {
			s.logger.Warn("batch encode failed, retrying per patch",
				zap.Int("batch", len(imgs)), zap.Error(err))
		}
	}

	vectors := make([][]float32, len(imgs))
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(imgs); j++ {
				errs[j] = err
			}
			break
		}
		res, err := s.encoder.EncodeImage(ctx, img)
		if err != nil {
			errs[i] = err
			continue
		}
		vectors[i] = res.Vector
	}
	return vectors, errs
}

// staged is one sampled patch awaiting its encoder batch. seq is the
// sampling ordinal, used to name per-patch failures in the report.
type staged struct {
	seq   uint32
	patch sample.Patch
}

// assembler accumulates sampled patches and feeds encoded batches into the
// index under construction. The index is created lazily once the first
// vector fixes the dimensionality.
type assembler struct {
	svc    *Service
	desc   dataset.Descriptor
	report *build.Report

	idx    *index.Index
	nextID uint32
	staged []staged
	images []image.Image
}

func (b *assembler) stage(p sample.Patch) {
	b.staged = append(b.staged, staged{seq: uint32(b.report.Sampled), patch: p})
	b.images = append(b.images, p.Image)
	b.report.Sampled++
}

// flush encodes the staged patches and appends the survivors. Ids are
// assigned after encoding so skipped patches leave no hole in the dense
// id sequence.
func (b *assembler) flush(ctx context.Context) error {
	if len(b.staged) == 0 {
		return nil
	}
	vectors, errs := b.svc.encodeBatch(ctx, b.images)

	batch := make([][]float32, 0, len(b.staged))
	records := make([]patch.Record, 0, len(b.staged))
	for i, st := range b.staged {
		if errs[i] != nil {
			b.report.AddFailure(st.seq, fmt.Sprintf("encode: %v", errs[i]))
			continue
		}
		vec := vectors[i]
		if vec == nil {
			b.report.AddFailure(st.seq, "encoder returned no vector")
			continue
		}
		b.report.Encoded++

		if b.idx == nil {
			idx, err := index.New(len(vec))
			if err != nil {
				return fmt.Errorf("create index: %w", err)
			}
			b.idx = idx
		}
		if len(vec) != b.idx.Dim() {
			b.report.AddFailure(st.seq, fmt.Sprintf("vector dimension %d, index expects %d", len(vec), b.idx.Dim()))
			continue
		}
		normalized, ok := index.NormalizeL2Copy(vec)
		if !ok {
			b.report.AddFailure(st.seq, "zero-norm vector")
			continue
		}
		rec, err := patch.New(b.nextID, st.patch.BBox, st.patch.Level, st.patch.Quality, b.desc.Width(), b.desc.Height())
		if err != nil {
			b.report.AddFailure(st.seq, err.Error())
			continue
		}
		batch = append(batch, normalized)
		records = append(records, rec)
		b.nextID++
	}

	b.staged = b.staged[:0]
	b.images = b.images[:0]

	if len(batch) == 0 {
		return nil
	}
	if err := b.idx.Add(batch, records); err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	b.report.Indexed += len(records)
	return nil
}
