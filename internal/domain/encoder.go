package domain

import (
	"context"
	"fmt"
	"image"
)

// TextEncoder is the shared text vectorization contract between layers.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) (EncodeResult, error)
}

// ImageEncoder vectorizes pixel data with the same model family as text,
// so image and text vectors live in one similarity space.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img image.Image) (EncodeResult, error)
}

// Encoder combines both modalities.
type Encoder interface {
	TextEncoder
	ImageEncoder
}

// BatchTextEncoder vectorizes multiple texts in a single provider call.
type BatchTextEncoder interface {
	BatchEncodeText(ctx context.Context, texts []string) (BatchEncodeResult, error)
}

// BatchImageEncoder vectorizes multiple images in a single provider call.
type BatchImageEncoder interface {
	BatchEncodeImage(ctx context.Context, imgs []image.Image) (BatchEncodeResult, error)
}

// HealthChecker verifies encoder provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EncodeResult carries the L2-normalized vector and token usage through the
// decorator chain.
type EncodeResult struct {
	Vector       []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEncodeResult carries multiple vectors and aggregate token usage.
type BatchEncodeResult struct {
	Vectors      [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchTextFallback calls EncodeText once per input. Safety net for
// providers without native batching.
func BatchTextFallback(ctx context.Context, e TextEncoder, texts []string) (BatchEncodeResult, error) {
	vectors := make([][]float32, len(texts))
	var prompt, total int

	for i, text := range texts {
		res, err := e.EncodeText(ctx, text)
		if err != nil {
			return BatchEncodeResult{}, fmt.Errorf("fallback encode [%d]: %w", i, err)
		}
		vectors[i] = res.Vector
		prompt += res.PromptTokens
		total += res.TotalTokens
	}

	return BatchEncodeResult{
		Vectors:      vectors,
		PromptTokens: prompt,
		TotalTokens:  total,
	}, nil
}

// BatchImageFallback calls EncodeImage once per input.
func BatchImageFallback(ctx context.Context, e ImageEncoder, imgs []image.Image) (BatchEncodeResult, error) {
	vectors := make([][]float32, len(imgs))
	var prompt, total int

	for i, img := range imgs {
		res, err := e.EncodeImage(ctx, img)
		if err != nil {
			return BatchEncodeResult{}, fmt.Errorf("fallback encode image [%d]: %w", i, err)
		}
		vectors[i] = res.Vector
		prompt += res.PromptTokens
		total += res.TotalTokens
	}

	return BatchEncodeResult{
		Vectors:      vectors,
		PromptTokens: prompt,
		TotalTokens:  total,
	}, nil
}

// PromptEncoder is a decorator that wraps query text in a prompt template
// before encoding. CLIP-family models score natural captions better than
// bare nouns.
type PromptEncoder struct {
	inner    TextEncoder
	template string
}

// NewPromptEncoder creates a decorator applying template (fmt verb %s)
// around the text. An empty template passes text through unchanged.
func NewPromptEncoder(inner TextEncoder, template string) *PromptEncoder {
	return &PromptEncoder{inner: inner, template: template}
}

// EncodeText applies the template and delegates to the inner encoder.
func (e *PromptEncoder) EncodeText(ctx context.Context, text string) (EncodeResult, error) {
	if e.template != "" {
		text = fmt.Sprintf(e.template, text)
	}
	result, err := e.inner.EncodeText(ctx, text)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("prompt encode: %w", err)
	}
	return result, nil
}
