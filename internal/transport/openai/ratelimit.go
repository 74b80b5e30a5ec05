package openai

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/time/rate"

	"github.com/deepfield-io/zoomdex/internal/domain"
)

// RateLimitedEncoder throttles provider calls with a token bucket. Hosted
// embedding endpoints enforce per-minute quotas; blocking here keeps index
// builds from burning the quota that interactive queries need.
type RateLimitedEncoder struct {
	inner   domain.Encoder
	limiter *rate.Limiter
}

// NewRateLimited wraps an encoder with a requests-per-second limit.
// rps <= 0 disables throttling.
func NewRateLimited(inner domain.Encoder, rps float64, burst int) *RateLimitedEncoder {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedEncoder{inner: inner, limiter: limiter}
}

func (e *RateLimitedEncoder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("encoder rate limit: %w", err)
	}
	return nil
}

// EncodeText throttles then delegates.
func (e *RateLimitedEncoder) EncodeText(ctx context.Context, text string) (domain.EncodeResult, error) {
	if err := e.wait(ctx); err != nil {
		return domain.EncodeResult{}, err
	}
	return e.inner.EncodeText(ctx, text)
}

// EncodeImage throttles then delegates.
func (e *RateLimitedEncoder) EncodeImage(ctx context.Context, img image.Image) (domain.EncodeResult, error) {
	if err := e.wait(ctx); err != nil {
		return domain.EncodeResult{}, err
	}
	return e.inner.EncodeImage(ctx, img)
}

// BatchEncodeText counts a native batch as one provider call. Without
// native batching it falls back to per-item calls, each throttled.
func (e *RateLimitedEncoder) BatchEncodeText(ctx context.Context, texts []string) (domain.BatchEncodeResult, error) {
	if be, ok := e.inner.(domain.BatchTextEncoder); ok {
		if err := e.wait(ctx); err != nil {
			return domain.BatchEncodeResult{}, err
		}
		return be.BatchEncodeText(ctx, texts)
	}
	return domain.BatchTextFallback(ctx, e, texts)
}

// BatchEncodeImage mirrors BatchEncodeText for images.
func (e *RateLimitedEncoder) BatchEncodeImage(ctx context.Context, imgs []image.Image) (domain.BatchEncodeResult, error) {
	if be, ok := e.inner.(domain.BatchImageEncoder); ok {
		if err := e.wait(ctx); err != nil {
			return domain.BatchEncodeResult{}, err
		}
		return be.BatchEncodeImage(ctx, imgs)
	}
	return domain.BatchImageFallback(ctx, e, imgs)
}

// HealthCheck bypasses the limiter: probes must not queue behind builds.
func (e *RateLimitedEncoder) HealthCheck(ctx context.Context) error {
	hc, ok := e.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	return hc.HealthCheck(ctx)
}
