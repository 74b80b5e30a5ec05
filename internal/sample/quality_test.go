package sample

import (
	"image"
	"image/color"
	"testing"
)

func fillRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

// checkerboard returns a black and white checkerboard with the given cell
// edge length.
func checkerboard(w, h, cell int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x/cell+y/cell)%2 == 0 {
				v = 0xFF
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 0xFF})
		}
	}
	return img
}

func uniformGray(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	fillRect(img, img.Bounds(), color.NRGBA{R: v, G: v, B: v, A: 0xFF})
	return img
}

// horizontalGradient ramps luminance left to right. It has high variance
// but no gradient steep enough to register as an edge.
func horizontalGradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 0xFF})
		}
	}
	return img
}

func TestPatchQuality_AcceptsTexturedPatch(t *testing.T) {
	q, ok := patchQuality(checkerboard(64, 64, 8), 0.01, 0.01)
	if !ok {
		t.Fatal("checkerboard patch rejected")
	}
	// Half black, half white: variance share is p(1-p) = 0.25.
	if q < 0.2 || q > 0.3 {
		t.Fatalf("quality = %v, want near 0.25", q)
	}
}

func TestPatchQuality_RejectsFlatPatch(t *testing.T) {
	if _, ok := patchQuality(uniformGray(64, 64, 0x80), 0.01, 0.01); ok {
		t.Fatal("flat patch passed the variance filter")
	}
}

func TestPatchQuality_RejectsEdgelessPatch(t *testing.T) {
	img := horizontalGradient(64, 64)
	gray, w, h := grayFloat(img)
	if v := variance(gray); v < 0.01*255*255 {
		t.Fatalf("gradient variance = %v, expected above the default threshold", v)
	}
	if r := edgeRatio(gray, w, h); r != 0 {
		t.Fatalf("gradient edge ratio = %v, want 0", r)
	}
	if _, ok := patchQuality(img, 0.01, 0.01); ok {
		t.Fatal("smooth gradient passed the edge filter")
	}
}

func TestPatchQuality_HonorsCustomThresholds(t *testing.T) {
	img := checkerboard(64, 64, 8)
	if _, ok := patchQuality(img, 0.01, 0.01); !ok {
		t.Fatal("rejected at default thresholds")
	}
	// Variance share 0.25 fails a 0.3 floor.
	if _, ok := patchQuality(img, 0.3, 0.01); ok {
		t.Fatal("passed a variance floor above its score")
	}
}

func TestVariance(t *testing.T) {
	if v := variance(nil); v != 0 {
		t.Fatalf("variance(nil) = %v, want 0", v)
	}
	if v := variance([]float64{5, 5, 5}); v != 0 {
		t.Fatalf("variance of constants = %v, want 0", v)
	}
	got := variance([]float64{0, 255})
	want := 127.5 * 127.5
	if got < want-1e-6 || got > want+1e-6 {
		t.Fatalf("variance = %v, want %v", got, want)
	}
}

func TestEdgeRatio_TinyRasterIsZero(t *testing.T) {
	gray, w, h := grayFloat(checkerboard(2, 2, 1))
	if r := edgeRatio(gray, w, h); r != 0 {
		t.Fatalf("edge ratio on 2x2 raster = %v, want 0", r)
	}
}

func TestHarris_FindsSquareCorners(t *testing.T) {
	img := uniformGray(128, 128, 0)
	fillRect(img, image.Rect(40, 40, 88, 88), color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})

	gray, w, h := grayFloat(img)
	peaks := peakCorners(harrisResponse(gray, w, h), w, h, 8, 16)
	if len(peaks) != 4 {
		t.Fatalf("peaks = %v, want the 4 square corners", peaks)
	}
	corners := []image.Point{{40, 40}, {87, 40}, {40, 87}, {87, 87}}
	for _, p := range peaks {
		near := false
		for _, c := range corners {
			dx, dy := p.X-c.X, p.Y-c.Y
			if dx*dx+dy*dy <= 9 {
				near = true
				break
			}
		}
		if !near {
			t.Fatalf("peak %v is not near any square corner", p)
		}
	}
}

func TestHarris_BlankRasterHasNoPeaks(t *testing.T) {
	gray, w, h := grayFloat(uniformGray(64, 64, 0x40))
	if peaks := peakCorners(harrisResponse(gray, w, h), w, h, 4, 16); peaks != nil {
		t.Fatalf("peaks on a blank raster = %v, want none", peaks)
	}
}

func TestPeakCorners_EnforcesMinDistance(t *testing.T) {
	// Two equal responses 5 pixels apart.
	w, h := 32, 32
	resp := make([]float64, w*h)
	resp[10*w+10] = 1.0
	resp[10*w+15] = 1.0

	if got := len(peakCorners(resp, w, h, 8, 16)); got != 1 {
		t.Fatalf("peaks with min distance 8 = %d, want 1", got)
	}
	if got := len(peakCorners(resp, w, h, 4, 16)); got != 2 {
		t.Fatalf("peaks with min distance 4 = %d, want 2", got)
	}
}
