package query

import (
	"math"

	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// minWindowEdge keeps proposal windows large enough to survive the
// encoder's downscaling with some signal left.
const minWindowEdge = 32

// proposalWindows lays square sliding windows over a width by height
// image, targeting between minCount and maxCount windows regardless of
// resolution: gigapixel mosaics get large sparse windows, small images
// fine ones. Neighbors overlap roughly half a window, the first and last
// of every row and column sit flush with the image edges, and every
// window is fully inside bounds. Scan order is row-major and
// deterministic for a given geometry.
func proposalWindows(width, height, minCount, maxCount int) []region.BBox {
	if width <= 0 || height <= 0 {
		return nil
	}
	target := float64(minCount+maxCount) / 2

	// Split the budget between the axes in proportion to the aspect ratio,
	// then trim whichever axis is denser until the product fits.
	aspect := float64(width) / float64(height)
	cols := int(math.Round(math.Sqrt(target * aspect)))
	rows := int(math.Round(math.Sqrt(target / aspect)))
	cols = max(cols, 1)
	rows = max(rows, 1)
	for cols*rows > maxCount {
		if cols >= rows {
			cols--
		} else {
			rows--
		}
	}

	// A window spans about two grid cells, giving ~50% overlap.
	size := width/cols + height/rows
	size = max(size, minWindowEdge)
	size = min(size, min(width, height))

	xs := offsets(cols, width, size)
	ys := offsets(rows, height, size)

	windows := make([]region.BBox, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			windows = append(windows, region.Reconstruct(x, y, size, size))
		}
	}
	return windows
}

// offsets spreads up to n window origins evenly from 0 to span-size
// inclusive, collapsing duplicates so tiny spans yield fewer windows
// instead of stacked ones.
func offsets(n, span, size int) []int {
	if size >= span {
		return []int{0}
	}
	if n < 2 {
		return []int{(span - size) / 2}
	}
	last := span - size
	offs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		o := i * last / (n - 1)
		if len(offs) == 0 || o != offs[len(offs)-1] {
			offs = append(offs, o)
		}
	}
	return offs
}
