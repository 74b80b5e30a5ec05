package query

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/index"
	"github.com/deepfield-io/zoomdex/internal/metrics"
)

// Detect localizes the query text inside the dataset. Candidates come
// from the ready index when it holds enough patches, otherwise from
// adaptive sliding windows extracted and scored on demand. Cancellation
// is reported through the outcome, never as an error and never as a
// truncated result set.
func (e *Engine) Detect(ctx context.Context, datasetID string, req domquery.DetectRequest) (domquery.DetectOutcome, error) {
	start := time.Now()
	defer func() {
		metrics.DetectDuration.Observe(time.Since(start).Seconds())
	}()

	desc, err := e.datasets.Descriptor(ctx, datasetID)
	if err != nil {
		return domquery.DetectOutcome{}, fmt.Errorf("detect: %w", err)
	}

	fp := detectFingerprint(&req)
	if out, ok := e.cachedDetect(ctx, datasetID, fp); ok {
		return out, nil
	}

	idx, err := e.indexes.Snapshot(datasetID)
	if err != nil {
		return domquery.DetectOutcome{}, fmt.Errorf("detect: %w", err)
	}

	probes, err := e.encodeProbes(ctx, req.Text(), true)
	if err != nil {
		return domquery.DetectOutcome{}, fmt.Errorf("detect: %w", err)
	}

	var cands []candidate
	source := "index"
	if idx.Len() >= e.params.MinProposals {
		cands, err = e.indexedCandidates(ctx, idx, probes)
		if err != nil {
			return domquery.DetectOutcome{}, fmt.Errorf("detect: %w", err)
		}
	} else {
		source = "windows"
		cands = e.windowCandidates(ctx, datasetID, desc, probes)
	}
	if ctx.Err() != nil {
		return domquery.DetectOutcome{Cancelled: true}, nil
	}

	out := domquery.DetectOutcome{Detections: e.rankDetections(cands, desc, &req)}
	e.storeDetect(ctx, datasetID, fp, out)
	e.logger.Debug("Detect completed",
		zap.String("dataset", datasetID),
		zap.String("query", req.Text()),
		zap.String("source", source),
		zap.Int("candidates", len(cands)),
		zap.Int("detections", len(out.Detections)))
	return out, nil
}

// indexedCandidates scores every probe against the index and merges per
// patch id by max score across probes.
func (e *Engine) indexedCandidates(ctx context.Context, idx *index.Index, probes [][]float32) ([]candidate, error) {
	budget := min(e.params.MaxProposals, idx.Len())
	merged := make(map[uint32]float64)
	for _, v := range probes {
		if ctx.Err() != nil {
			return nil, nil
		}
		found, err := idx.Search(v, budget, domquery.NoFilter())
		if err != nil {
			return nil, fmt.Errorf("index candidates: %w", err)
		}
		for _, h := range found {
			s := float64(h.Score)
			if cur, ok := merged[h.ID]; !ok || s > cur {
				merged[h.ID] = s
			}
		}
	}

	cands := make([]candidate, 0, len(merged))
	for id, score := range merged {
		rec, ok := idx.Record(id)
		if !ok {
			continue
		}
		cands = append(cands, candidate{id: id, bbox: rec.BBox(), score: score})
	}
	return cands, nil
}

// windowCandidates extracts and encodes sliding windows in batches,
// checking cancellation between batches. A failed window drops that
// window only, never the request.
func (e *Engine) windowCandidates(ctx context.Context, datasetID string, desc dataset.Descriptor, probes [][]float32) []candidate {
	windows := proposalWindows(desc.Width(), desc.Height(), e.params.MinProposals, e.params.MaxProposals)
	var cands []candidate
	for off := 0; off < len(windows); off += e.params.ScoreBatch {
		if ctx.Err() != nil {
			return cands
		}
		end := min(off+e.params.ScoreBatch, len(windows))
		cands = append(cands, e.scoreWindows(ctx, datasetID, windows[off:end], uint32(off), probes)...)
	}
	return cands
}

// scoreWindows extracts one batch of windows and scores each surviving
// snippet against the probes.
func (e *Engine) scoreWindows(ctx context.Context, datasetID string, windows []region.BBox, base uint32, probes [][]float32) []candidate {
	ids := make([]uint32, 0, len(windows))
	boxes := make([]region.BBox, 0, len(windows))
	imgs := make([]image.Image, 0, len(windows))
	for i, w := range windows {
		snip, err := e.pixels.Extract(ctx, datasetID, w)
		if err != nil {
			metrics.DetectCandidatesTotal.WithLabelValues("failed").Inc()
			e.logger.Debug("Window extract failed",
				zap.String("dataset", datasetID), zap.Stringer("bbox", w), zap.Error(err))
			continue
		}
		ids = append(ids, base+uint32(i))
		boxes = append(boxes, w)
		imgs = append(imgs, snip.Image)
	}
	if len(imgs) == 0 {
		return nil
	}

	vectors := e.encodeWindows(ctx, imgs)
	cands := make([]candidate, 0, len(vectors))
	for i, vec := range vectors {
		if vec == nil {
			metrics.DetectCandidatesTotal.WithLabelValues("failed").Inc()
			continue
		}
		score, ok := bestProbeScore(vec, probes)
		if !ok {
			metrics.DetectCandidatesTotal.WithLabelValues("failed").Inc()
			continue
		}
		cands = append(cands, candidate{id: ids[i], bbox: boxes[i], score: score})
	}
	return cands
}

// encodeWindows tries one provider batch first, then falls back to
// per-image encodes so one poisoned input only drops itself. Failed
// entries come back nil.
func (e *Engine) encodeWindows(ctx context.Context, imgs []image.Image) [][]float32 {
	if be, ok := e.encoder.(domain.BatchImageEncoder); ok {
		if res, err := be.BatchEncodeImage(ctx, imgs); err == nil && len(res.Vectors) == len(imgs) {
			return res.Vectors
		}
	}
	vectors := make([][]float32, len(imgs))
	for i, img := range imgs {
		if ctx.Err() != nil {
			break
		}
		res, err := e.encoder.EncodeImage(ctx, img)
		if err != nil {
			continue
		}
		vectors[i] = res.Vector
	}
	return vectors
}

// bestProbeScore returns the max inner product of the vector against the
// probes. Everything is L2-normalized upstream, so this is cosine.
func bestProbeScore(vec []float32, probes [][]float32) (float64, bool) {
	best := math.Inf(-1)
	found := false
	for _, p := range probes {
		if len(p) != len(vec) {
			continue
		}
		best = max(best, float64(index.Dot(vec, p)))
		found = true
	}
	return best, found
}

// rankDetections applies the confidence cut, greedy suppression, and
// bounds validation, then ranks survivors 1-based and caps the count.
// Out-of-bounds boxes are dropped whole, never clamped.
func (e *Engine) rankDetections(cands []candidate, desc dataset.Descriptor, req *domquery.DetectRequest) []domquery.Detection {
	passing := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.score < req.Threshold() {
			metrics.DetectCandidatesTotal.WithLabelValues("below_threshold").Inc()
			continue
		}
		passing = append(passing, c)
	}

	kept, dropped := suppress(passing, e.params.NMSIoU)
	if dropped > 0 {
		metrics.DetectCandidatesTotal.WithLabelValues("suppressed").Add(float64(dropped))
	}

	detections := make([]domquery.Detection, 0, min(len(kept), req.MaxResults()))
	for _, c := range kept {
		if len(detections) == req.MaxResults() {
			break
		}
		if !c.bbox.Inside(desc.Width(), desc.Height()) {
			metrics.DetectCandidatesTotal.WithLabelValues("out_of_bounds").Inc()
			continue
		}
		detections = append(detections, domquery.NewDetection(len(detections)+1, c.bbox, min(c.score, 1)))
		metrics.DetectCandidatesTotal.WithLabelValues("kept").Inc()
	}
	return detections
}
