package sample

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
)

// --- Mocks ---

type stubDescriptors struct {
	descs map[string]dataset.Descriptor
}

func (s *stubDescriptors) Descriptor(_ context.Context, datasetID string) (dataset.Descriptor, error) {
	d, ok := s.descs[datasetID]
	if !ok {
		return dataset.Descriptor{}, fmt.Errorf("descriptor %s: %w", datasetID, domain.ErrNotFound)
	}
	return d, nil
}

// stubPixels serves windows by cropping one synthetic global raster.
// Windows intersecting a hole report missing data.
type stubPixels struct {
	img          *image.NRGBA
	holes        []region.BBox
	extractCalls int
	rasterLevels []int
}

func (s *stubPixels) Extract(_ context.Context, _ string, bbox region.BBox) (extract.Snippet, error) {
	s.extractCalls++
	for _, hole := range s.holes {
		if _, overlaps := bbox.Intersect(hole); overlaps {
			return extract.Snippet{}, fmt.Errorf("region: %w", domain.ErrNotFound)
		}
	}
	crop := image.NewNRGBA(image.Rect(0, 0, bbox.Width(), bbox.Height()))
	for y := 0; y < bbox.Height(); y++ {
		for x := 0; x < bbox.Width(); x++ {
			crop.SetNRGBA(x, y, s.img.NRGBAAt(bbox.X()+x, bbox.Y()+y))
		}
	}
	return extract.Snippet{
		Image:      crop,
		Provenance: extract.Provenance{Source: extract.SourceStitched},
	}, nil
}

func (s *stubPixels) LevelRaster(_ context.Context, _ string, level int) (*image.NRGBA, error) {
	s.rasterLevels = append(s.rasterLevels, level)
	return s.img, nil
}

// --- Helpers ---

// newTestSampler registers "d1" as a 256x192 dataset with 64-pixel tiles,
// which yields a 3-level pyramid (finest level 2).
func newTestSampler(t *testing.T, img *image.NRGBA) (*Sampler, *stubPixels) {
	t.Helper()
	desc, err := dataset.New("d1", img.Bounds().Dx(), img.Bounds().Dy(), 64, 0, "png")
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	pix := &stubPixels{img: img}
	store := &stubDescriptors{descs: map[string]dataset.Descriptor{"d1": desc}}
	return New(store, pix, zap.NewNop()), pix
}

func collect(t *testing.T, st *Stream) []Patch {
	t.Helper()
	var out []Patch
	for st.Next() {
		out = append(out, st.Patch())
	}
	if err := st.Err(); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	return out
}

// halfTextured is black on the left half and an 8-pixel checkerboard on
// the right half.
func halfTextured(w, h int) *image.NRGBA {
	img := uniformGray(w, h, 0)
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			v := uint8(0)
			if (x/8+y/8)%2 == 0 {
				v = 0xFF
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 0xFF})
		}
	}
	return img
}

// --- Tests ---

func TestStream_KeepsOnlyTexturedWindows(t *testing.T) {
	smp, _ := newTestSampler(t, halfTextured(256, 192))

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:        []int{64},
		StrideRatios: []float64{1.0},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	patches := collect(t, st)

	// 12 grid windows; only the 6 fully inside the textured right half
	// survive the filters.
	if len(patches) != 6 {
		t.Fatalf("patches = %d, want 6", len(patches))
	}
	for _, p := range patches {
		if p.BBox.X() < 128 {
			t.Fatalf("patch at x=%d from the flat half passed filtering", p.BBox.X())
		}
		if p.BBox.Width() != 64 || p.BBox.Height() != 64 {
			t.Fatalf("patch bbox %dx%d, want 64x64", p.BBox.Width(), p.BBox.Height())
		}
		if p.Level != 2 {
			t.Fatalf("patch level = %d, want finest level 2", p.Level)
		}
		if p.Quality <= 0 {
			t.Fatalf("patch quality = %v, want positive", p.Quality)
		}
		if got := p.Image.Bounds(); got.Dx() != 64 || got.Dy() != 64 {
			t.Fatalf("patch image %v, want 64x64", got)
		}
	}
}

func TestStream_RestartYieldsSameSequence(t *testing.T) {
	smp, _ := newTestSampler(t, halfTextured(256, 192))
	opts := Options{Sizes: []int{64}, StrideRatios: []float64{0.5, 1.0}}

	run := func() []region.BBox {
		st, err := smp.Stream(context.Background(), "d1", opts)
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		var boxes []region.BBox
		for _, p := range collect(t, st) {
			boxes = append(boxes, p.BBox)
		}
		return boxes
	}

	first, second := run(), run()
	if len(first) == 0 {
		t.Fatal("no patches emitted")
	}
	if len(first) != len(second) {
		t.Fatalf("restart emitted %d patches, first pass %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("patch %d differs across restarts: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestStream_WalksAllSizeStrideCombos(t *testing.T) {
	smp, _ := newTestSampler(t, checkerboard(256, 192, 8))

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:        []int{128, 64}, // sorted ascending internally
		StrideRatios: []float64{0.5, 1.0},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	patches := collect(t, st)

	// Size 64: 7x5 windows at stride 32 plus 4x3 at stride 64 = 47.
	// Size 128: 3x2 windows at stride 64 plus 2x1 at stride 128 = 8.
	if len(patches) != 55 {
		t.Fatalf("patches = %d, want 55", len(patches))
	}
	bySize := map[int]int{}
	for _, p := range patches {
		bySize[p.BBox.Width()]++
	}
	if bySize[64] != 47 || bySize[128] != 8 {
		t.Fatalf("patches by size = %v, want 47 of 64 and 8 of 128", bySize)
	}
	if patches[0].BBox.Width() != 64 {
		t.Fatalf("first patch size = %d, want smallest size first", patches[0].BBox.Width())
	}
	if patches[54].BBox.Width() != 128 {
		t.Fatalf("last patch size = %d, want largest size last", patches[54].BBox.Width())
	}
}

func TestStream_MaxPerScaleCapsEachSize(t *testing.T) {
	smp, _ := newTestSampler(t, checkerboard(256, 192, 8))

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:        []int{64, 128},
		StrideRatios: []float64{0.5},
		MaxPerScale:  5,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	patches := collect(t, st)

	bySize := map[int]int{}
	for _, p := range patches {
		bySize[p.BBox.Width()]++
	}
	if bySize[64] != 5 || bySize[128] != 5 {
		t.Fatalf("patches by size = %v, want 5 per size", bySize)
	}
}

func TestStream_SkipsWindowsWithMissingData(t *testing.T) {
	smp, pix := newTestSampler(t, checkerboard(256, 192, 8))
	pix.holes = []region.BBox{region.Reconstruct(0, 0, 64, 64)}

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:        []int{64},
		StrideRatios: []float64{1.0},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	patches := collect(t, st)

	// Only the window over the hole is skipped.
	if len(patches) != 11 {
		t.Fatalf("patches = %d, want 11", len(patches))
	}
	for _, p := range patches {
		if p.BBox.X() == 0 && p.BBox.Y() == 0 {
			t.Fatal("window over missing data was emitted")
		}
	}
}

func TestStream_PropagatesExtractionFailures(t *testing.T) {
	smp, pix := newTestSampler(t, checkerboard(256, 192, 8))
	boom := errors.New("backend down")
	failing := &failingPixels{stub: pix, err: boom}
	smp.pix = failing

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:        []int{64},
		StrideRatios: []float64{1.0},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if st.Next() {
		t.Fatal("Next succeeded despite a failing extractor")
	}
	if !errors.Is(st.Err(), boom) {
		t.Fatalf("Err() = %v, want the extraction failure", st.Err())
	}
}

type failingPixels struct {
	stub *stubPixels
	err  error
}

func (f *failingPixels) Extract(context.Context, string, region.BBox) (extract.Snippet, error) {
	return extract.Snippet{}, f.err
}

func (f *failingPixels) LevelRaster(ctx context.Context, id string, level int) (*image.NRGBA, error) {
	return f.stub.LevelRaster(ctx, id, level)
}

func TestStream_CancelledContextStopsIteration(t *testing.T) {
	smp, _ := newTestSampler(t, checkerboard(256, 192, 8))
	ctx, cancel := context.WithCancel(context.Background())

	st, err := smp.Stream(ctx, "d1", Options{Sizes: []int{64}, StrideRatios: []float64{1.0}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !st.Next() {
		t.Fatalf("first Next failed: %v", st.Err())
	}
	cancel()
	if st.Next() {
		t.Fatal("Next succeeded after cancellation")
	}
	if !errors.Is(st.Err(), context.Canceled) {
		t.Fatalf("Err() = %v, want context.Canceled", st.Err())
	}
}

func TestStream_UnknownDataset(t *testing.T) {
	smp, _ := newTestSampler(t, checkerboard(256, 192, 8))
	if _, err := smp.Stream(context.Background(), "ghost", Options{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestStream_RejectsInvalidOptions(t *testing.T) {
	smp, _ := newTestSampler(t, checkerboard(256, 192, 8))

	if _, err := smp.Stream(context.Background(), "d1", Options{Sizes: []int{-64}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("negative size: err = %v, want invalid input", err)
	}
	if _, err := smp.Stream(context.Background(), "d1", Options{StrideRatios: []float64{1.5}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("ratio above 1: err = %v, want invalid input", err)
	}
}

func TestStream_HierarchicalSpansLevels(t *testing.T) {
	smp, _ := newTestSampler(t, checkerboard(256, 192, 8))

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:        []int{64},
		Hierarchical: true,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	patches := collect(t, st)

	byLevel := map[int]int{}
	for _, p := range patches {
		byLevel[p.Level]++
		switch p.Level {
		case 2:
			if p.BBox.Width() != 64 {
				t.Fatalf("finest-level patch spans %d global pixels, want 64", p.BBox.Width())
			}
		case 1:
			if p.BBox.Width() != 128 {
				t.Fatalf("level-1 patch spans %d global pixels, want 128", p.BBox.Width())
			}
		default:
			t.Fatalf("patch at unexpected level %d", p.Level)
		}
		if !p.BBox.Inside(256, 192) {
			t.Fatalf("patch bbox %v escapes the dataset", p.BBox)
		}
	}
	// Finest level: 7x5 windows at stride 32. Level 1: 3x2 at stride 32
	// over a 128x96 raster. Level 0 is 64x48, too small for a 64 window.
	if byLevel[2] != 35 || byLevel[1] != 6 {
		t.Fatalf("patches by level = %v, want 35 at level 2 and 6 at level 1", byLevel)
	}
}

func TestStream_InterestPointsCenterOnCorners(t *testing.T) {
	img := uniformGray(256, 192, 0)
	fillRect(img, image.Rect(100, 100, 124, 124), color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	smp, pix := newTestSampler(t, img)

	st, err := smp.Stream(context.Background(), "d1", Options{
		Sizes:          []int{64},
		InterestPoints: true,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	patches := collect(t, st)

	if len(patches) == 0 {
		t.Fatal("no interest-point patches emitted")
	}
	for _, p := range patches {
		if p.BBox.Width() != 64 || p.BBox.Height() != 64 {
			t.Fatalf("patch bbox %dx%d, want 64x64", p.BBox.Width(), p.BBox.Height())
		}
		if p.Level != 2 {
			t.Fatalf("patch level = %d, want finest level 2", p.Level)
		}
		// Windows are centered on the square's corners, so each one
		// contains the square's center.
		if p.BBox.X() > 112 || p.BBox.Right() < 112 || p.BBox.Y() > 112 || p.BBox.Bottom() < 112 {
			t.Fatalf("patch bbox %v does not cover the corner cluster", p.BBox)
		}
		if !p.BBox.Inside(256, 192) {
			t.Fatalf("patch bbox %v escapes the dataset", p.BBox)
		}
	}
	// The 256x192 overview already fits the analysis cap, so the finest
	// level serves as the overview.
	if len(pix.rasterLevels) != 1 || pix.rasterLevels[0] != 2 {
		t.Fatalf("overview raster levels = %v, want [2]", pix.rasterLevels)
	}
}

func TestStream_InterestPointsOnBlankImage(t *testing.T) {
	smp, _ := newTestSampler(t, uniformGray(256, 192, 0x40))

	st, err := smp.Stream(context.Background(), "d1", Options{InterestPoints: true})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if patches := collect(t, st); len(patches) != 0 {
		t.Fatalf("patches = %d, want none on a featureless image", len(patches))
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.applyDefaults()
	if got, want := fmt.Sprint(o.Sizes), fmt.Sprint([]int{64, 128, 256}); got != want {
		t.Fatalf("default sizes = %s, want %s", got, want)
	}
	if got, want := fmt.Sprint(o.StrideRatios), fmt.Sprint([]float64{0.5, 0.75, 1.0}); got != want {
		t.Fatalf("default stride ratios = %s, want %s", got, want)
	}
	if o.MinVariance != 0.01 || o.MinEdgeDensity != 0.01 {
		t.Fatalf("default thresholds = %v/%v, want 0.01/0.01", o.MinVariance, o.MinEdgeDensity)
	}
}
