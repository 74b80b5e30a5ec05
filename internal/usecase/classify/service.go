// Package classify labels extracted regions against the versioned
// category-prompt embeddings. Classification never fails: every error at
// any step collapses into the one deterministic unknown fallback, so
// callers always receive a structurally valid value.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/db"
	"github.com/deepfield-io/zoomdex/internal/domain"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
	"github.com/deepfield-io/zoomdex/internal/index"
	"github.com/deepfield-io/zoomdex/internal/metrics"
)

// maxAlternatives bounds the non-primary labels in a result.
const maxAlternatives = 4

// softmaxScale matches CLIP's zero-shot logit scale so confidences look
// like the model's own probabilities.
const softmaxScale = 100.0

// pixels extracts region pixels (ISP).
type pixels interface {
	Extract(ctx context.Context, datasetID string, bbox region.BBox) (extract.Snippet, error)
}

// promptStore persists prompt embeddings across processes (ISP).
type promptStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// promptPayload is the KV wire form of one catalog's embeddings.
type promptPayload struct {
	Version string      `json:"version"`
	Model   string      `json:"model"`
	Labels  []string    `json:"labels"`
	Vectors [][]float32 `json:"vectors"`
}

// Service classifies snippets against the catalog.
type Service struct {
	pixels  pixels
	encoder domain.Encoder
	store   promptStore
	catalog Catalog
	model   string
	logger  *zap.Logger

	mu      sync.Mutex
	vectors [][]float32 // catalog prompt embeddings, filled once
}

// New creates the classification service. store may be nil, in which case
// prompt embeddings live only in this process. model namespaces the cached
// embeddings so switching encoders re-encodes the catalog.
func New(pix pixels, enc domain.Encoder, store promptStore, catalog Catalog, model string, logger *zap.Logger) (*Service, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pixels:  pix,
		encoder: enc,
		store:   store,
		catalog: catalog,
		model:   model,
		logger:  logger,
	}, nil
}

// Warm precomputes the prompt embeddings so the first classify call does
// not pay the encode latency.
func (s *Service) Warm(ctx context.Context) error {
	if _, err := s.promptVectors(ctx); err != nil {
		return fmt.Errorf("warm prompts: %w", err)
	}
	return nil
}

// Classify labels the region. It never returns an error: any failure
// yields the deterministic unknown fallback.
func (s *Service) Classify(ctx context.Context, datasetID string, bbox region.BBox) domquery.Classification {
	result, err := s.classify(ctx, datasetID, bbox)
	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues("fallback").Inc()
		s.logger.Warn("Classification fell back",
			zap.String("dataset", datasetID),
			zap.Stringer("bbox", bbox),
			zap.Error(err))
		return domquery.FallbackClassification()
	}
	metrics.ClassificationsTotal.WithLabelValues("ok").Inc()
	return result
}

func (s *Service) classify(ctx context.Context, datasetID string, bbox region.BBox) (domquery.Classification, error) {
	prompts, err := s.promptVectors(ctx)
	if err != nil {
		return domquery.Classification{}, fmt.Errorf("category prompts: %w", err)
	}

	snip, err := s.pixels.Extract(ctx, datasetID, bbox)
	if err != nil {
		return domquery.Classification{}, fmt.Errorf("extract: %w", err)
	}

	res, err := s.encoder.EncodeImage(ctx, snip.Image)
	if err != nil {
		return domquery.Classification{}, fmt.Errorf("encode snippet: %w", err)
	}

	scores := make([]float64, len(prompts))
	for i, p := range prompts {
		if len(p) != len(res.Vector) {
			return domquery.Classification{}, fmt.Errorf("prompt %d dimension %d against snippet %d: %w",
				i, len(p), len(res.Vector), domain.ErrInternal)
		}
		scores[i] = float64(index.Dot(res.Vector, p))
	}
	conf := softmax(scores)
	order := rankIndices(conf)

	primary := order[0]
	alts := make([]domquery.Alternative, 0, maxAlternatives)
	prev := conf[primary]
	for _, idx := range order[1:] {
		if len(alts) == maxAlternatives {
			break
		}
		// Exact ties collapse so the alternative list stays strictly
		// descending.
		if conf[idx] >= prev {
			continue
		}
		alts = append(alts, domquery.Alternative{
			Label:      s.catalog.Categories[idx].Label,
			Confidence: conf[idx],
		})
		prev = conf[idx]
	}
	if len(alts) == 0 {
		alts = nil
	}

	return domquery.Classification{
		Primary:      s.catalog.Categories[primary].Label,
		Confidence:   conf[primary],
		Alternatives: alts,
	}, nil
}

// promptVectors returns the catalog embeddings, computing them once per
// process and reusing the KV copy across processes. Concurrent first
// callers serialize on the mutex rather than racing the encoder.
func (s *Service) promptVectors(ctx context.Context) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors != nil {
		return s.vectors, nil
	}

	if vecs, ok := s.loadStored(ctx); ok {
		s.vectors = vecs
		return vecs, nil
	}

	vecs, err := s.encodePrompts(ctx)
	if err != nil {
		return nil, err
	}
	s.vectors = vecs
	s.storePrompts(ctx, vecs)
	return vecs, nil
}

func (s *Service) promptKey() string {
	return fmt.Sprintf("%sprompts:%s:%s", domain.KeyPrefix, s.model, s.catalog.Version)
}

func (s *Service) loadStored(ctx context.Context) ([][]float32, bool) {
	if s.store == nil {
		return nil, false
	}
	data, err := s.store.Get(ctx, s.promptKey())
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			s.logger.Warn("Prompt embedding read failed", zap.Error(err))
		}
		return nil, false
	}

	var p promptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("Dropping undecodable prompt embeddings", zap.Error(err))
		return nil, false
	}
	if p.Version != s.catalog.Version || p.Model != s.model ||
		len(p.Vectors) != len(s.catalog.Categories) || len(p.Labels) != len(s.catalog.Categories) {
		s.logger.Warn("Stored prompt embeddings do not match the catalog, re-encoding",
			zap.String("stored_version", p.Version), zap.String("stored_model", p.Model))
		return nil, false
	}
	for i, cat := range s.catalog.Categories {
		if p.Labels[i] != cat.Label || len(p.Vectors[i]) == 0 {
			s.logger.Warn("Stored prompt embeddings do not match the catalog, re-encoding",
				zap.Int("entry", i))
			return nil, false
		}
	}
	return p.Vectors, true
}

func (s *Service) storePrompts(ctx context.Context, vecs [][]float32) {
	if s.store == nil {
		return
	}
	labels := make([]string, len(s.catalog.Categories))
	for i, cat := range s.catalog.Categories {
		labels[i] = cat.Label
	}
	data, err := json.Marshal(promptPayload{
		Version: s.catalog.Version,
		Model:   s.model,
		Labels:  labels,
		Vectors: vecs,
	})
	if err != nil {
		s.logger.Warn("Encoding prompt embeddings failed", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, s.promptKey(), data); err != nil {
		s.logger.Warn("Persisting prompt embeddings failed", zap.Error(err))
	}
}

func (s *Service) encodePrompts(ctx context.Context) ([][]float32, error) {
	texts := s.catalog.PromptTexts()
	var res domain.BatchEncodeResult
	var err error
	if be, ok := s.encoder.(domain.BatchTextEncoder); ok {
		res, err = be.BatchEncodeText(ctx, texts)
	} else {
		res, err = domain.BatchTextFallback(ctx, s.encoder, texts)
	}
	if err != nil {
		return nil, fmt.Errorf("encode prompts: %w", err)
	}
	if len(res.Vectors) != len(texts) {
		return nil, fmt.Errorf("encode prompts: %d vectors for %d prompts: %w",
			len(res.Vectors), len(texts), domain.ErrInternal)
	}
	s.logger.Info("Category prompts encoded",
		zap.String("version", s.catalog.Version),
		zap.String("model", s.model),
		zap.Int("categories", len(texts)))
	return res.Vectors, nil
}

// softmax turns cosine scores into a probability-shaped distribution. The
// max is subtracted first to keep the exponentials in range.
func softmax(scores []float64) []float64 {
	maxS := scores[0]
	for _, v := range scores[1:] {
		maxS = max(maxS, v)
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, v := range scores {
		e := math.Exp(softmaxScale * (v - maxS))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// rankIndices orders catalog positions by confidence descending, keeping
// catalog order on exact ties.
func rankIndices(conf []float64) []int {
	order := make([]int, len(conf))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return conf[order[a]] > conf[order[b]]
	})
	return order
}
