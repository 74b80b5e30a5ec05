// Package openai talks to an OpenAI-compatible embeddings endpoint serving
// a CLIP-family model: text and images embed into one similarity space.
// Images are sent as base64 PNG data URLs, the convention of CLIP-serving
// inference gateways.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/metrics"
)

// Encoder is an embedding provider using the OpenAI-compatible API.
type Encoder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	Logger     *zap.Logger
}

// NewEncoder creates an OpenAI-compatible embedding provider.
func NewEncoder(cfg *Config) *Encoder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Encoder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   cfg.Provider,
		logger:     cfg.Logger,
	}
}

// EncodeText implements domain.TextEncoder.
func (e *Encoder) EncodeText(ctx context.Context, text string) (domain.EncodeResult, error) {
	batch, err := e.createEmbeddings(ctx, []string{text})
	if err != nil {
		return domain.EncodeResult{}, err
	}
	return domain.EncodeResult{
		Vector:       batch.Vectors[0],
		PromptTokens: batch.PromptTokens,
		TotalTokens:  batch.TotalTokens,
	}, nil
}

// EncodeImage implements domain.ImageEncoder.
func (e *Encoder) EncodeImage(ctx context.Context, img image.Image) (domain.EncodeResult, error) {
	input, err := imageDataURL(img)
	if err != nil {
		return domain.EncodeResult{}, err
	}
	batch, err := e.createEmbeddings(ctx, []string{input})
	if err != nil {
		return domain.EncodeResult{}, err
	}
	return domain.EncodeResult{
		Vector:       batch.Vectors[0],
		PromptTokens: batch.PromptTokens,
		TotalTokens:  batch.TotalTokens,
	}, nil
}

// BatchEncodeText implements domain.BatchTextEncoder with one provider call.
func (e *Encoder) BatchEncodeText(ctx context.Context, texts []string) (domain.BatchEncodeResult, error) {
	if len(texts) == 0 {
		return domain.BatchEncodeResult{}, nil
	}
	return e.createEmbeddings(ctx, texts)
}

// BatchEncodeImage implements domain.BatchImageEncoder with one provider call.
func (e *Encoder) BatchEncodeImage(ctx context.Context, imgs []image.Image) (domain.BatchEncodeResult, error) {
	if len(imgs) == 0 {
		return domain.BatchEncodeResult{}, nil
	}
	inputs := make([]string, len(imgs))
	for i, img := range imgs {
		input, err := imageDataURL(img)
		if err != nil {
			return domain.BatchEncodeResult{}, fmt.Errorf("image [%d]: %w", i, err)
		}
		inputs[i] = input
	}
	return e.createEmbeddings(ctx, inputs)
}

func (e *Encoder) createEmbeddings(ctx context.Context, inputs []string) (domain.BatchEncodeResult, error) {
	req := openai.EmbeddingRequest{
		Input:          inputs,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "api_error").Inc()
		return domain.BatchEncodeResult{}, parseAPIError(err)
	}

	if len(resp.Data) != len(inputs) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "empty_response").Inc()
		return domain.BatchEncodeResult{}, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(inputs), domain.ErrEncoderUnavailable)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := append([]float32(nil), d.Embedding...)
		if err := normalizeL2(vec); err != nil {
			metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "degenerate_vector").Inc()
			return domain.BatchEncodeResult{}, fmt.Errorf("embedding [%d]: %w", i, err)
		}
		vectors[i] = vec
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, string(e.model)).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, string(e.model), "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, string(e.model), "total").Add(float64(totalTokens))
	}

	return domain.BatchEncodeResult{
		Vectors:      vectors,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Encoder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// normalizeL2 scales the vector to unit length in place. Downstream
// scoring assumes inner product == cosine, which only holds for unit
// vectors, so a provider returning unnormalized output is corrected here.
func normalizeL2(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return fmt.Errorf("zero-norm embedding: %w", domain.ErrEncoderUnavailable)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) < 1e-6 {
		return nil
	}
	inv := float32(1 / norm)
	for i := range v {
		v[i] *= inv
	}
	return nil
}

// imageDataURL encodes the image as a base64 PNG data URL.
func imageDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode snippet png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEncoderUnavailable for correct 502 mapping.
func parseAPIError(err error) error {
	wrap := domain.ErrEncoderUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w", wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
