package query

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/index"
	"github.com/deepfield-io/zoomdex/internal/metrics"
)

// maxProbes caps query expansion at the original text plus two templated
// variants.
const maxProbes = 3

// Pipeline defaults, referenced by the config layer.
const (
	DefaultNMSIoU       = 0.45
	DefaultMinProposals = 150
	DefaultMaxProposals = 250
	DefaultScoreBatch   = 16
)

// Params tunes the pipelines. Zero values select the defaults above.
type Params struct {
	// ProbeTemplates are fmt templates (verb %s) applied to the query text
	// when expansion is requested. At most two are used per query.
	ProbeTemplates []string
	// NMSIoU is the overlap above which a detection is suppressed.
	NMSIoU float64
	// MinProposals and MaxProposals bound the sliding-window budget.
	// MinProposals doubles as the index size below which detect falls back
	// from indexed patches to on-demand windows.
	MinProposals int
	MaxProposals int
	// ScoreBatch is how many windows are extracted and encoded between
	// cancellation checks.
	ScoreBatch int
}

func (p *Params) applyDefaults() {
	if p.NMSIoU <= 0 {
		p.NMSIoU = DefaultNMSIoU
	}
	if p.MinProposals <= 0 {
		p.MinProposals = DefaultMinProposals
	}
	if p.MaxProposals <= 0 {
		p.MaxProposals = DefaultMaxProposals
	}
	if p.MaxProposals < p.MinProposals {
		p.MaxProposals = p.MinProposals
	}
	if p.ScoreBatch <= 0 {
		p.ScoreBatch = DefaultScoreBatch
	}
}

// Engine runs search and detection against ready dataset indexes.
type Engine struct {
	datasets descriptors
	indexes  snapshots
	encoder  domain.Encoder
	pixels   pixels
	cache    results
	params   Params
	logger   *zap.Logger
}

// New creates the engine. cache may be nil to disable the outcome cache.
func New(datasets descriptors, indexes snapshots, encoder domain.Encoder, pix pixels, cache results, params Params, logger *zap.Logger) *Engine {
	params.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		datasets: datasets,
		indexes:  indexes,
		encoder:  encoder,
		pixels:   pix,
		cache:    cache,
		params:   params,
		logger:   logger,
	}
}

// EncodeText returns the query-space vector for free text. Normalization
// makes equivalent spellings share one cache entry down the chain.
func (e *Engine) EncodeText(ctx context.Context, text string) ([]float32, error) {
	text = domquery.NormalizeText(text)
	if text == "" {
		return nil, domain.NewValidation("query", "required")
	}
	res, err := e.encoder.EncodeText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	return res.Vector, nil
}

// Search runs a text query against the dataset's ready index snapshot.
// Cancellation is reported through the outcome, never as an error.
func (e *Engine) Search(ctx context.Context, datasetID string, req domquery.SearchRequest) (domquery.Outcome, error) {
	if _, err := e.datasets.Descriptor(ctx, datasetID); err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return domquery.Outcome{}, fmt.Errorf("search: %w", err)
	}

	fp := searchFingerprint(&req)
	if out, ok := e.cachedSearch(ctx, datasetID, fp); ok {
		metrics.SearchesTotal.WithLabelValues("ok").Inc()
		return out, nil
	}

	idx, err := e.indexes.Snapshot(datasetID)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return domquery.Outcome{}, fmt.Errorf("search: %w", err)
	}

	probes, err := e.encodeProbes(ctx, req.Text(), req.Expand())
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return domquery.Outcome{}, fmt.Errorf("search: %w", err)
	}

	merged := make(map[uint32]float64)
	for _, v := range probes {
		if ctx.Err() != nil {
			metrics.SearchesTotal.WithLabelValues("cancelled").Inc()
			return domquery.Outcome{Cancelled: true}, nil
		}
		found, err := idx.Search(v, req.TopK(), req.Filter())
		if err != nil {
			metrics.SearchesTotal.WithLabelValues("error").Inc()
			return domquery.Outcome{}, fmt.Errorf("search index: %w", err)
		}
		for _, h := range found {
			s := float64(h.Score)
			if cur, ok := merged[h.ID]; !ok || s > cur {
				merged[h.ID] = s
			}
		}
	}

	out := domquery.Outcome{Hits: rankHits(idx, merged, &req)}
	e.storeSearch(ctx, datasetID, fp, out)
	metrics.SearchesTotal.WithLabelValues("ok").Inc()
	e.logger.Debug("Search completed",
		zap.String("dataset", datasetID),
		zap.String("query", req.Text()),
		zap.Int("probes", len(probes)),
		zap.Int("hits", len(out.Hits)))
	return out, nil
}

// probeTexts returns the normalized query plus up to two templated
// variants. Variants that collapse onto the original are dropped so the
// encoder is never asked twice for one string.
func (e *Engine) probeTexts(text string, expand bool) []string {
	probes := []string{text}
	if !expand {
		return probes
	}
	for _, tpl := range e.params.ProbeTemplates {
		if len(probes) == maxProbes {
			break
		}
		p := domquery.NormalizeText(fmt.Sprintf(tpl, text))
		if p == "" || p == text {
			continue
		}
		probes = append(probes, p)
	}
	return probes
}

func (e *Engine) encodeProbes(ctx context.Context, text string, expand bool) ([][]float32, error) {
	probes := e.probeTexts(text, expand)
	vectors := make([][]float32, len(probes))
	for i, p := range probes {
		res, err := e.encoder.EncodeText(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("encode probe %d: %w", i, err)
		}
		vectors[i] = res.Vector
	}
	return vectors, nil
}

// rankHits orders merged probe scores descending with lower-id ties,
// applies the min-score cut, and assigns 1-based ranks up to topK.
func rankHits(idx *index.Index, merged map[uint32]float64, req *domquery.SearchRequest) []domquery.Hit {
	ids := make([]uint32, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := merged[ids[i]], merged[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})

	hits := make([]domquery.Hit, 0, min(len(ids), req.TopK()))
	for _, id := range ids {
		if len(hits) == req.TopK() {
			break
		}
		score := merged[id]
		if score < req.MinScore() {
			break // sorted descending, nothing further passes either
		}
		rec, ok := idx.Record(id)
		if !ok {
			continue
		}
		hits = append(hits, domquery.NewHit(len(hits)+1, id, score, rec.BBox(), rec.Level()))
	}
	return hits
}
