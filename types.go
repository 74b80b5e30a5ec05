package zoomdex

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/build"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
)

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// QueryParams tunes the query engine. Zero fields keep engine defaults.
type QueryParams struct {
	// ProbeTemplates are fmt templates (verb %s) applied to the query
	// text when expansion is requested.
	ProbeTemplates []string
	// NMSIoU is the overlap above which a detection is suppressed.
	NMSIoU float64
	// MinProposals and MaxProposals bound the sliding-window budget.
	MinProposals int
	MaxProposals int
	// ScoreBatch is how many windows are scored between cancellation
	// checks.
	ScoreBatch int
}

// SamplerOptions tunes patch sampling for index builds. Zero fields keep
// sampler defaults.
type SamplerOptions struct {
	Sizes          []int
	StrideRatios   []float64
	MinVariance    float64
	MinEdgeDensity float64
	InterestPoints bool
	Hierarchical   bool
	MaxPerScale    int
}

// Category pairs the label callers receive with the prompt that is encoded.
type Category struct {
	Label  string
	Prompt string
}

// BBox is a rectangle in dataset-global pixel coordinates.
type BBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (b BBox) toRegion() (region.BBox, error) {
	return region.New(b.X, b.Y, b.Width, b.Height)
}

func fromRegion(r region.BBox) BBox {
	return BBox{X: r.X(), Y: r.Y(), Width: r.Width(), Height: r.Height()}
}

// DatasetInfo describes one tile pyramid and its index state.
type DatasetInfo struct {
	ID         string
	Width      int
	Height     int
	TileSize   int
	Levels     int
	Format     string
	IndexState string
}

func fromDescriptor(d dataset.Descriptor, state dataset.IndexState) DatasetInfo {
	return DatasetInfo{
		ID:         d.ID(),
		Width:      d.Width(),
		Height:     d.Height(),
		TileSize:   d.TileSize(),
		Levels:     d.LevelCount(),
		Format:     d.Format(),
		IndexState: string(state),
	}
}

// Snippet is an extracted region with provenance.
type Snippet struct {
	// Image holds the requested pixels; its bounds match the request.
	Image *image.NRGBA
	// Source reports how the pixels were produced ("asset" or "tiles").
	Source string
	// Level is the pyramid level the pixels came from.
	Level int
	// TileCount is how many tiles were stitched (0 for asset reads).
	TileCount int
}

func fromSnippet(s extract.Snippet) Snippet {
	return Snippet{
		Image:     s.Image,
		Source:    s.Provenance.Source,
		Level:     s.Provenance.Level,
		TileCount: s.Provenance.TileCount,
	}
}

// AssetInfo describes a reconstructed full-image asset.
type AssetInfo struct {
	DatasetID string
	Width     int
	Height    int
	SizeBytes int64
	// Created is true when this call performed the reconstruction and
	// false when a previously stored asset was reused.
	Created bool
}

func fromAssetInfo(a extract.AssetInfo) AssetInfo {
	return AssetInfo{
		DatasetID: a.DatasetID,
		Width:     a.Width,
		Height:    a.Height,
		SizeBytes: int64(a.SizeBytes),
		Created:   a.Created,
	}
}

// Hit is a single search result.
type Hit struct {
	Rank    int
	PatchID uint32
	Score   float64
	BBox    BBox
	Level   int
}

// SearchOutcome is the result of a search. Cancelled is a distinct
// outcome, not an error: when true, Hits is empty.
type SearchOutcome struct {
	Hits      []Hit
	Cancelled bool
}

func fromOutcome(o domquery.Outcome) SearchOutcome {
	out := SearchOutcome{Cancelled: o.Cancelled}
	for i := range o.Hits {
		h := &o.Hits[i]
		out.Hits = append(out.Hits, Hit{
			Rank:    h.Rank(),
			PatchID: h.PatchID(),
			Score:   h.Score(),
			BBox:    fromRegion(h.BBox()),
			Level:   h.Level(),
		})
	}
	return out
}

// Detection is one detected region.
type Detection struct {
	Rank       int
	Confidence float64
	BBox       BBox
}

// DetectOutcome is the result of a detect call.
type DetectOutcome struct {
	Detections []Detection
	Cancelled  bool
}

func fromDetectOutcome(o domquery.DetectOutcome) DetectOutcome {
	out := DetectOutcome{Cancelled: o.Cancelled}
	for i := range o.Detections {
		d := &o.Detections[i]
		out.Detections = append(out.Detections, Detection{
			Rank:       d.Rank(),
			Confidence: d.Confidence(),
			BBox:       fromRegion(d.BBox()),
		})
	}
	return out
}

// Alternative is a non-primary classification label.
type Alternative struct {
	Label      string
	Confidence float64
}

// Classification is the result of classifying a region. Fallback marks
// the deterministic unknown result produced when any step failed.
type Classification struct {
	Primary      string
	Confidence   float64
	Alternatives []Alternative
	Fallback     bool
}

func fromClassification(c domquery.Classification) Classification {
	out := Classification{
		Primary:    c.Primary,
		Confidence: c.Confidence,
		Fallback:   c.Fallback,
	}
	for _, a := range c.Alternatives {
		out.Alternatives = append(out.Alternatives, Alternative{
			Label:      a.Label,
			Confidence: a.Confidence,
		})
	}
	return out
}

// BuildReport aggregates the counters of one index build.
type BuildReport struct {
	Sampled  int
	Encoded  int
	Indexed  int
	Skipped  int
	Failures []ItemFailure
}

// ItemFailure records one skipped patch.
type ItemFailure struct {
	PatchID uint32
	Reason  string
}

// Job is a pollable handle to one index build.
type Job struct {
	ID         string
	DatasetID  string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Report     *BuildReport
}

func fromJob(j build.Job) Job {
	out := Job{
		ID:         j.ID,
		DatasetID:  j.DatasetID,
		Status:     string(j.Status),
		Error:      j.Error,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if j.Report != nil {
		r := &BuildReport{
			Sampled: j.Report.Sampled,
			Encoded: j.Report.Encoded,
			Indexed: j.Report.Indexed,
			Skipped: j.Report.Skipped,
		}
		for _, f := range j.Report.Failures {
			r.Failures = append(r.Failures, ItemFailure{
				PatchID: f.PatchID(),
				Reason:  f.Reason(),
			})
		}
		out.Report = r
	}
	return out
}

// SearchOptions configures a search call.
type SearchOptions struct {
	// TopK bounds the number of hits (default 20, max 100).
	TopK int
	// MinScore drops hits scoring below it.
	MinScore float64
	// Expand scores probe variants of the query and merges by max score.
	Expand bool
	// Level restricts hits to one pyramid level. Nil means no restriction.
	Level *int
	// Within restricts hits to patches fully inside the box.
	Within *BBox
}

// DetectOptions configures a detect call.
type DetectOptions struct {
	// ConfidenceThreshold drops candidates below it (default 0.6).
	ConfidenceThreshold float64
	// MaxResults bounds the detections returned (default 50, max 500).
	MaxResults int
}

// EncodeResult carries an embedding vector and provider token usage.
type EncodeResult struct {
	Vector       []float32
	PromptTokens int
	TotalTokens  int
}

// Encoder is the embedding provider contract. Text and image vectors must
// live in one similarity space (CLIP-style dual encoders).
type Encoder interface {
	EncodeText(ctx context.Context, text string) (EncodeResult, error)
	EncodeImage(ctx context.Context, img image.Image) (EncodeResult, error)
}

// encoderAdapter wraps the public Encoder to satisfy internal
// domain.Encoder.
type encoderAdapter struct {
	inner Encoder
}

func (a *encoderAdapter) EncodeText(ctx context.Context, text string) (domain.EncodeResult, error) {
	r, err := a.inner.EncodeText(ctx, text)
	if err != nil {
		return domain.EncodeResult{}, fmt.Errorf("encode text: %w", err)
	}
	return domain.EncodeResult{
		Vector:       r.Vector,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *encoderAdapter) EncodeImage(ctx context.Context, img image.Image) (domain.EncodeResult, error) {
	r, err := a.inner.EncodeImage(ctx, img)
	if err != nil {
		return domain.EncodeResult{}, fmt.Errorf("encode image: %w", err)
	}
	return domain.EncodeResult{
		Vector:       r.Vector,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// noopEncoder fails every call (used when no encoder is configured).
// Pixel operations keep working; semantic operations report the encoder
// as unavailable.
type noopEncoder struct{}

func (noopEncoder) EncodeText(_ context.Context, _ string) (domain.EncodeResult, error) {
	return domain.EncodeResult{}, fmt.Errorf(
		"zoomdex: encoder not configured (use WithEncoder for semantic operations): %w",
		domain.ErrEncoderUnavailable,
	)
}

func (noopEncoder) EncodeImage(_ context.Context, _ image.Image) (domain.EncodeResult, error) {
	return domain.EncodeResult{}, fmt.Errorf(
		"zoomdex: encoder not configured (use WithEncoder for semantic operations): %w",
		domain.ErrEncoderUnavailable,
	)
}

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound           = domain.ErrNotFound
	ErrInvalidInput       = domain.ErrInvalidInput
	ErrNotReady           = domain.ErrNotReady
	ErrAlreadyIndexing    = domain.ErrAlreadyIndexing
	ErrBudgetExceeded     = domain.ErrBudgetExceeded
	ErrEncoderUnavailable = domain.ErrEncoderUnavailable
)
