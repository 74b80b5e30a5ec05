package sample

import (
	"image"
	"sort"
)

// Harris detector parameters: the standard sensitivity constant, the
// relative response cutoff for peak candidates, and a hard cap on peaks so
// highly textured overviews stay bounded.
const (
	harrisK             = 0.05
	harrisThresholdRel  = 0.1
	maxInterestPoints   = 256
	harrisGaussianScale = 1.0 / 16.0
)

// harrisResponse computes the Harris corner response over a luminance
// raster: Sobel gradients, 3x3 Gaussian-weighted structure tensor, then
// R = det(M) - k·trace(M)². Border pixels carry response 0.
func harrisResponse(gray []float64, w, h int) []float64 {
	resp := make([]float64, w*h)
	if w < 5 || h < 5 {
		return resp
	}

	ixx := make([]float64, w*h)
	iyy := make([]float64, w*h)
	ixy := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := sobelAt(gray, w, x, y)
			i := y*w + x
			ixx[i] = gx * gx
			iyy[i] = gy * gy
			ixy[i] = gx * gy
		}
	}

	// 3x3 Gaussian window: (1 2 1; 2 4 2; 1 2 1) / 16.
	weights := [3][3]float64{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}
	for y := 2; y < h-2; y++ {
		for x := 2; x < w-2; x++ {
			var sxx, syy, sxy float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					wt := weights[dy+1][dx+1]
					i := (y+dy)*w + x + dx
					sxx += wt * ixx[i]
					syy += wt * iyy[i]
					sxy += wt * ixy[i]
				}
			}
			sxx *= harrisGaussianScale
			syy *= harrisGaussianScale
			sxy *= harrisGaussianScale
			det := sxx*syy - sxy*sxy
			trace := sxx + syy
			resp[y*w+x] = det - harrisK*trace*trace
		}
	}
	return resp
}

// peakCorners returns response peaks at least minDist apart, strongest
// first. Candidates below harrisThresholdRel of the maximum response are
// ignored; at most maxPeaks survive.
func peakCorners(resp []float64, w, h, minDist, maxPeaks int) []image.Point {
	var maxResp float64
	for _, r := range resp {
		if r > maxResp {
			maxResp = r
		}
	}
	if maxResp <= 0 {
		return nil
	}
	cutoff := maxResp * harrisThresholdRel

	type candidate struct {
		pt image.Point
		r  float64
	}
	var cands []candidate
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if r := resp[y*w+x]; r >= cutoff {
				cands = append(cands, candidate{pt: image.Pt(x, y), r: r})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].r != cands[j].r {
			return cands[i].r > cands[j].r
		}
		if cands[i].pt.Y != cands[j].pt.Y {
			return cands[i].pt.Y < cands[j].pt.Y
		}
		return cands[i].pt.X < cands[j].pt.X
	})

	if minDist < 1 {
		minDist = 1
	}
	minDistSq := minDist * minDist
	var peaks []image.Point
	for _, c := range cands {
		if len(peaks) >= maxPeaks {
			break
		}
		ok := true
		for _, p := range peaks {
			dx := c.pt.X - p.X
			dy := c.pt.Y - p.Y
			if dx*dx+dy*dy < minDistSq {
				ok = false
				break
			}
		}
		if ok {
			peaks = append(peaks, c.pt)
		}
	}
	return peaks
}
