package sample

import (
	"image"
	"math"
)

// sobelEdgeMagnitude is the gradient magnitude above which a pixel counts
// as an edge pixel.
const sobelEdgeMagnitude = 100.0

// grayFloat converts the image to BT.601 luminance values in [0, 255].
func grayFloat(img *image.NRGBA) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			out[y*w+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}
	return out, w, h
}

// variance returns the population variance of the values.
func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range vals {
		sum += v
		sumSq += v * v
	}
	n := float64(len(vals))
	mean := sum / n
	return sumSq/n - mean*mean
}

// edgeRatio returns the share of pixels whose Sobel gradient magnitude
// exceeds sobelEdgeMagnitude. Border pixels are not evaluated but stay in
// the denominator.
func edgeRatio(gray []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := sobelAt(gray, w, x, y)
			if math.Sqrt(gx*gx+gy*gy) > sobelEdgeMagnitude {
				edges++
			}
		}
	}
	return float64(edges) / float64(w*h)
}

func sobelAt(gray []float64, w, x, y int) (gx, gy float64) {
	tl := gray[(y-1)*w+x-1]
	tc := gray[(y-1)*w+x]
	tr := gray[(y-1)*w+x+1]
	ml := gray[y*w+x-1]
	mr := gray[y*w+x+1]
	bl := gray[(y+1)*w+x-1]
	bc := gray[(y+1)*w+x]
	br := gray[(y+1)*w+x+1]
	gx = (tr + 2*mr + br) - (tl + 2*ml + bl)
	gy = (bl + 2*bc + br) - (tl + 2*tc + tr)
	return gx, gy
}

// patchQuality applies the variance and edge-density filters. It returns
// the patch's quality score (its luminance variance as a share of the
// maximum 255²) and whether the patch passes both filters.
func patchQuality(img *image.NRGBA, minVariance, minEdgeDensity float64) (float64, bool) {
	gray, w, h := grayFloat(img)
	v := variance(gray)
	if v < minVariance*255*255 {
		return 0, false
	}
	if edgeRatio(gray, w, h) < minEdgeDensity {
		return 0, false
	}
	return v / (255 * 255), true
}
