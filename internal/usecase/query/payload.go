package query

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// Result-cache wire forms. Only finished outcomes are written; cancelled
// ones never reach the cache. The fingerprint prefix versions the payload
// so a format change invalidates old entries instead of misreading them.

type cachedHit struct {
	Rank  int     `json:"rank"`
	ID    uint32  `json:"id"`
	Score float64 `json:"score"`
	BBox  [4]int  `json:"bbox"`
	Level int     `json:"level"`
}

type searchPayload struct {
	Hits []cachedHit `json:"hits"`
}

type cachedDetection struct {
	Rank       int     `json:"rank"`
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

type detectPayload struct {
	Detections []cachedDetection `json:"detections"`
}

func searchFingerprint(req *domquery.SearchRequest) string {
	f := req.Filter()
	within := ""
	if f.Within != nil {
		within = f.Within.String()
	}
	return fmt.Sprintf("s1|%s|%d|%g|%t|%d|%s",
		req.Text(), req.TopK(), req.MinScore(), req.Expand(), f.Level, within)
}

func detectFingerprint(req *domquery.DetectRequest) string {
	return fmt.Sprintf("d1|%s|%g|%d", req.Text(), req.Threshold(), req.MaxResults())
}

func (e *Engine) cachedSearch(ctx context.Context, datasetID, fp string) (domquery.Outcome, bool) {
	if e.cache == nil {
		return domquery.Outcome{}, false
	}
	data, ok := e.cache.Get(ctx, datasetID, fp)
	if !ok {
		return domquery.Outcome{}, false
	}
	var p searchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("Dropping undecodable cached search outcome",
			zap.String("dataset", datasetID), zap.Error(err))
		return domquery.Outcome{}, false
	}
	hits := make([]domquery.Hit, len(p.Hits))
	for i, h := range p.Hits {
		hits[i] = domquery.NewHit(h.Rank, h.ID, h.Score,
			region.Reconstruct(h.BBox[0], h.BBox[1], h.BBox[2], h.BBox[3]), h.Level)
	}
	return domquery.Outcome{Hits: hits}, true
}

func (e *Engine) storeSearch(ctx context.Context, datasetID, fp string, out domquery.Outcome) {
	if e.cache == nil || out.Cancelled {
		return
	}
	p := searchPayload{Hits: make([]cachedHit, len(out.Hits))}
	for i := range out.Hits {
		h := &out.Hits[i]
		b := h.BBox()
		p.Hits[i] = cachedHit{
			Rank:  h.Rank(),
			ID:    h.PatchID(),
			Score: h.Score(),
			BBox:  [4]int{b.X(), b.Y(), b.Width(), b.Height()},
			Level: h.Level(),
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		e.logger.Warn("Encoding search outcome for cache failed", zap.Error(err))
		return
	}
	e.cache.Put(ctx, datasetID, fp, data)
}

func (e *Engine) cachedDetect(ctx context.Context, datasetID, fp string) (domquery.DetectOutcome, bool) {
	if e.cache == nil {
		return domquery.DetectOutcome{}, false
	}
	data, ok := e.cache.Get(ctx, datasetID, fp)
	if !ok {
		return domquery.DetectOutcome{}, false
	}
	var p detectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		e.logger.Warn("Dropping undecodable cached detect outcome",
			zap.String("dataset", datasetID), zap.Error(err))
		return domquery.DetectOutcome{}, false
	}
	dets := make([]domquery.Detection, len(p.Detections))
	for i, d := range p.Detections {
		dets[i] = domquery.NewDetection(d.Rank,
			region.Reconstruct(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]), d.Confidence)
	}
	return domquery.DetectOutcome{Detections: dets}, true
}

func (e *Engine) storeDetect(ctx context.Context, datasetID, fp string, out domquery.DetectOutcome) {
	if e.cache == nil || out.Cancelled {
		return
	}
	p := detectPayload{Detections: make([]cachedDetection, len(out.Detections))}
	for i := range out.Detections {
		d := &out.Detections[i]
		b := d.BBox()
		p.Detections[i] = cachedDetection{
			Rank:       d.Rank(),
			BBox:       [4]int{b.X(), b.Y(), b.Width(), b.Height()},
			Confidence: d.Confidence(),
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		e.logger.Warn("Encoding detect outcome for cache failed", zap.Error(err))
		return
	}
	e.cache.Put(ctx, datasetID, fp, data)
}
