// Package region defines the bounding-box value object shared by every
// layer. Coordinates are whole pixels in dataset-global space.
package region

import "fmt"

// BBox is an axis-aligned box {x, y, width, height} (immutable value object).
type BBox struct {
	x      int
	y      int
	width  int
	height int
}

// New validates and creates a BBox. Origin must be non-negative and both
// dimensions strictly positive.
func New(x, y, width, height int) (BBox, error) {
	if x < 0 || y < 0 {
		return BBox{}, fmt.Errorf("bbox origin must be non-negative, got (%d, %d)", x, y)
	}
	if width <= 0 || height <= 0 {
		return BBox{}, fmt.Errorf("bbox dimensions must be positive, got %dx%d", width, height)
	}
	return BBox{x: x, y: y, width: width, height: height}, nil
}

// Reconstruct creates a BBox without validation (storage hydration).
func Reconstruct(x, y, width, height int) BBox {
	return BBox{x: x, y: y, width: width, height: height}
}

// X returns the left edge.
func (b BBox) X() int { return b.x }

// Y returns the top edge.
func (b BBox) Y() int { return b.y }

// Width returns the horizontal extent.
func (b BBox) Width() int { return b.width }

// Height returns the vertical extent.
func (b BBox) Height() int { return b.height }

// Right returns the exclusive right edge (x + width).
func (b BBox) Right() int { return b.x + b.width }

// Bottom returns the exclusive bottom edge (y + height).
func (b BBox) Bottom() int { return b.y + b.height }

// Area returns width × height.
func (b BBox) Area() int { return b.width * b.height }

// Inside reports whether the box lies fully inside [0,imgW)×[0,imgH).
func (b BBox) Inside(imgW, imgH int) bool {
	return b.x >= 0 && b.y >= 0 && b.Right() <= imgW && b.Bottom() <= imgH
}

// Intersect returns the overlapping box and whether any overlap exists.
func (b BBox) Intersect(o BBox) (BBox, bool) {
	x0 := max(b.x, o.x)
	y0 := max(b.y, o.y)
	x1 := min(b.Right(), o.Right())
	y1 := min(b.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return BBox{}, false
	}
	return BBox{x: x0, y: y0, width: x1 - x0, height: y1 - y0}, true
}

// Union returns the smallest box covering both.
func (b BBox) Union(o BBox) BBox {
	x0 := min(b.x, o.x)
	y0 := min(b.y, o.y)
	x1 := max(b.Right(), o.Right())
	y1 := max(b.Bottom(), o.Bottom())
	return BBox{x: x0, y: y0, width: x1 - x0, height: y1 - y0}
}

// IoU returns intersection-over-union in [0, 1].
func (b BBox) IoU(o BBox) float64 {
	inter, ok := b.Intersect(o)
	if !ok {
		return 0
	}
	union := b.Area() + o.Area() - inter.Area()
	if union <= 0 {
		return 0
	}
	return float64(inter.Area()) / float64(union)
}

// ScaleUp maps the box from level pixels to global pixels by factor s.
func (b BBox) ScaleUp(s int) BBox {
	return BBox{x: b.x * s, y: b.y * s, width: b.width * s, height: b.height * s}
}

// ScaleDown maps the box from global pixels to level pixels for scale s,
// flooring the origin and ceiling the far edge so coverage never shrinks.
func (b BBox) ScaleDown(s int) BBox {
	if s <= 1 {
		return b
	}
	x0 := b.x / s
	y0 := b.y / s
	x1 := (b.Right() + s - 1) / s
	y1 := (b.Bottom() + s - 1) / s
	return BBox{x: x0, y: y0, width: x1 - x0, height: y1 - y0}
}

func (b BBox) String() string {
	return fmt.Sprintf("bbox(%d,%d %dx%d)", b.x, b.y, b.width, b.height)
}
