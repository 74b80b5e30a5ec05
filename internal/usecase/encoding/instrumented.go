// Package encoding decorates the embedding encoder with budget
// enforcement, usage accounting, and API batch chunking.
package encoding

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/metrics"
)

// DefaultMaxAPIBatchSize caps how many inputs go into one provider call.
const DefaultMaxAPIBatchSize = 256

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedEncoder wraps an Encoder with budget enforcement and logging.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai.
// This layer owns budget tracking, budget-related metrics, and per-request
// usage accounting via the context collector.
type InstrumentedEncoder struct {
	inner    domain.Encoder
	provider string
	model    string
	budget   BudgetChecker
	logger   *zap.Logger

	textCalls   atomic.Int64
	imageCalls  atomic.Int64
	totalTokens atomic.Int64
}

// NewInstrumented wraps an encoder with budget and observability.
// budget can be nil (unlimited mode).
func NewInstrumented(
	inner domain.Encoder, provider, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEncoder {
	return &InstrumentedEncoder{
		inner:    inner,
		provider: provider,
		model:    model,
		budget:   budget,
		logger:   logger,
	}
}

// EncodeText checks the budget, delegates to the inner encoder, and
// records usage.
func (p *InstrumentedEncoder) EncodeText(
	ctx context.Context, text string,
) (domain.EncodeResult, error) {
	if err := p.checkBudget(ctx, 1); err != nil {
		return domain.EncodeResult{}, err
	}

	start := time.Now()
	result, err := p.inner.EncodeText(ctx, text)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Text encode failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EncodeResult{}, fmt.Errorf("encode text: %w", err)
	}

	p.textCalls.Add(1)
	p.recordUsage(ctx, result.TotalTokens)

	p.logger.Debug("Text encode completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Vector)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// EncodeImage checks the budget, delegates to the inner encoder, and
// records usage.
func (p *InstrumentedEncoder) EncodeImage(
	ctx context.Context, img image.Image,
) (domain.EncodeResult, error) {
	if err := p.checkBudget(ctx, 1); err != nil {
		return domain.EncodeResult{}, err
	}

	start := time.Now()
	result, err := p.inner.EncodeImage(ctx, img)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Image encode failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EncodeResult{}, fmt.Errorf("encode image: %w", err)
	}

	p.imageCalls.Add(1)
	p.recordUsage(ctx, result.TotalTokens)

	return result, nil
}

// BatchEncodeText checks the budget, splits into sub-batches, and
// delegates to the inner encoder.
func (p *InstrumentedEncoder) BatchEncodeText(
	ctx context.Context, texts []string,
) (domain.BatchEncodeResult, error) {
	if len(texts) == 0 {
		return domain.BatchEncodeResult{}, nil
	}
	if err := p.checkBudget(ctx, len(texts)); err != nil {
		return domain.BatchEncodeResult{}, err
	}

	start := time.Now()
	result, err := p.textChunked(ctx, texts)
	if err != nil {
		return domain.BatchEncodeResult{}, err
	}

	p.textCalls.Add(int64(len(texts)))
	p.recordUsage(ctx, result.TotalTokens)

	p.logger.Debug("Batch text encode completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// BatchEncodeImage checks the budget, splits into sub-batches, and
// delegates to the inner encoder. This is the index build hot path.
func (p *InstrumentedEncoder) BatchEncodeImage(
	ctx context.Context, imgs []image.Image,
) (domain.BatchEncodeResult, error) {
	if len(imgs) == 0 {
		return domain.BatchEncodeResult{}, nil
	}
	if err := p.checkBudget(ctx, len(imgs)); err != nil {
		return domain.BatchEncodeResult{}, err
	}

	start := time.Now()
	result, err := p.imageChunked(ctx, imgs)
	if err != nil {
		return domain.BatchEncodeResult{}, err
	}

	p.imageCalls.Add(int64(len(imgs)))
	p.recordUsage(ctx, result.TotalTokens)

	p.logger.Debug("Batch image encode completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(imgs)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck delegates to the inner encoder when it supports checks.
func (p *InstrumentedEncoder) HealthCheck(ctx context.Context) error {
	hc, ok := p.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("encoder health: %w", err)
	}
	return nil
}

// TextCalls returns the lifetime text encode count for usage reporting.
func (p *InstrumentedEncoder) TextCalls() int64 { return p.textCalls.Load() }

// ImageCalls returns the lifetime image encode count for usage reporting.
func (p *InstrumentedEncoder) ImageCalls() int64 { return p.imageCalls.Load() }

// TotalTokens returns the lifetime provider token count for usage reporting.
func (p *InstrumentedEncoder) TotalTokens() int64 { return p.totalTokens.Load() }

// checkBudget rejects before the provider is contacted.
func (p *InstrumentedEncoder) checkBudget(ctx context.Context, batchSize int) error {
	if p.budget == nil {
		return nil
	}
	if err := p.budget.Check(ctx); err != nil {
		p.logger.Error("Budget exceeded",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Int("batch_size", batchSize),
			zap.Error(err),
		)
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

// recordUsage feeds consumed tokens into the budget, the remaining-budget
// gauges, the lifetime counters, and the per-request usage collector.
func (p *InstrumentedEncoder) recordUsage(ctx context.Context, tokens int) {
	p.totalTokens.Add(int64(tokens))
	domain.UsageFromContext(ctx).AddTokens(tokens)

	if p.budget != nil && tokens > 0 {
		p.budget.Record(int64(tokens))
		remaining := metrics.EmbeddingBudgetTokensRemaining
		remaining.WithLabelValues(p.provider, "daily").Set(float64(p.budget.RemainingDaily()))
		remaining.WithLabelValues(p.provider, "monthly").Set(float64(p.budget.RemainingMonthly()))
	}
}

// textChunked splits texts into DefaultMaxAPIBatchSize chunks with a
// budget re-check between chunks.
func (p *InstrumentedEncoder) textChunked(
	ctx context.Context, texts []string,
) (domain.BatchEncodeResult, error) {
	var vectors [][]float32
	var prompt, total int

	for offset := 0; offset < len(texts); offset += DefaultMaxAPIBatchSize {
		if p.budget != nil && offset > 0 {
			if err := p.budget.Check(ctx); err != nil {
				return domain.BatchEncodeResult{}, fmt.Errorf("budget check (chunk %d): %w", offset, err)
			}
		}

		end := offset + DefaultMaxAPIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := p.textInner(ctx, texts[offset:end])
		if err != nil {
			p.logger.Error("Batch text encode failed",
				zap.String("provider", p.provider),
				zap.Int("chunk_offset", offset),
				zap.Error(err),
			)
			return domain.BatchEncodeResult{}, fmt.Errorf("batch encode text: %w", err)
		}

		vectors = append(vectors, chunk.Vectors...)
		prompt += chunk.PromptTokens
		total += chunk.TotalTokens
	}

	return domain.BatchEncodeResult{
		Vectors:      vectors,
		PromptTokens: prompt,
		TotalTokens:  total,
	}, nil
}

// imageChunked mirrors textChunked for image inputs.
func (p *InstrumentedEncoder) imageChunked(
	ctx context.Context, imgs []image.Image,
) (domain.BatchEncodeResult, error) {
	var vectors [][]float32
	var prompt, total int

	for offset := 0; offset < len(imgs); offset += DefaultMaxAPIBatchSize {
		if p.budget != nil && offset > 0 {
			if err := p.budget.Check(ctx); err != nil {
				return domain.BatchEncodeResult{}, fmt.Errorf("budget check (chunk %d): %w", offset, err)
			}
		}

		end := offset + DefaultMaxAPIBatchSize
		if end > len(imgs) {
			end = len(imgs)
		}
		chunk, err := p.imageInner(ctx, imgs[offset:end])
		if err != nil {
			p.logger.Error("Batch image encode failed",
				zap.String("provider", p.provider),
				zap.Int("chunk_offset", offset),
				zap.Error(err),
			)
			return domain.BatchEncodeResult{}, fmt.Errorf("batch encode image: %w", err)
		}

		vectors = append(vectors, chunk.Vectors...)
		prompt += chunk.PromptTokens
		total += chunk.TotalTokens
	}

	return domain.BatchEncodeResult{
		Vectors:      vectors,
		PromptTokens: prompt,
		TotalTokens:  total,
	}, nil
}

func (p *InstrumentedEncoder) textInner(
	ctx context.Context, texts []string,
) (domain.BatchEncodeResult, error) {
	if be, ok := p.inner.(domain.BatchTextEncoder); ok {
		res, err := be.BatchEncodeText(ctx, texts)
		if err != nil {
			return domain.BatchEncodeResult{}, fmt.Errorf("inner batch: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchTextFallback(ctx, p.inner, texts)
	if err != nil {
		return domain.BatchEncodeResult{}, fmt.Errorf("inner batch fallback: %w", err)
	}
	return res, nil
}

func (p *InstrumentedEncoder) imageInner(
	ctx context.Context, imgs []image.Image,
) (domain.BatchEncodeResult, error) {
	if be, ok := p.inner.(domain.BatchImageEncoder); ok {
		res, err := be.BatchEncodeImage(ctx, imgs)
		if err != nil {
			return domain.BatchEncodeResult{}, fmt.Errorf("inner batch: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchImageFallback(ctx, p.inner, imgs)
	if err != nil {
		return domain.BatchEncodeResult{}, fmt.Errorf("inner batch fallback: %w", err)
	}
	return res, nil
}
