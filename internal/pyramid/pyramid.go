// Package pyramid is the single authority for tile-pyramid geometry.
// Every conversion between dataset-global pixels and (level, tile, local)
// addresses goes through Grid; no other package recomputes scale factors.
//
// Convention: level 0 is the coarsest level, where the whole image fits in
// one tile. Resolution doubles with each increasing level. The finest level
// maps one level pixel to one global pixel (scale 1).
package pyramid

import (
	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// Address identifies one level pixel by tile and local offset.
type Address struct {
	Level  int
	TileX  int
	TileY  int
	LocalX int
	LocalY int
}

// Grid performs coordinate math for one dataset's pyramid.
type Grid struct {
	width    int
	height   int
	tileSize int
	levels   int
}

// NewGrid derives the grid from a dataset descriptor.
func NewGrid(d dataset.Descriptor) Grid {
	return Grid{
		width:    d.Width(),
		height:   d.Height(),
		tileSize: d.TileSize(),
		levels:   d.LevelCount(),
	}
}

// Width returns the global pixel width.
func (g Grid) Width() int { return g.width }

// Height returns the global pixel height.
func (g Grid) Height() int { return g.height }

// TileSize returns the tile edge length.
func (g Grid) TileSize() int { return g.tileSize }

// Levels returns the pyramid depth.
func (g Grid) Levels() int { return g.levels }

// FinestLevel returns the 1:1 level index.
func (g Grid) FinestLevel() int { return g.levels - 1 }

func (g Grid) checkLevel(level int) error {
	if level < 0 || level >= g.levels {
		return domain.NewValidation("level", "outside pyramid range")
	}
	return nil
}

// Scale returns how many global pixels one level pixel spans: 2^(finest-level).
func (g Grid) Scale(level int) (int, error) {
	if err := g.checkLevel(level); err != nil {
		return 0, err
	}
	return 1 << (g.levels - 1 - level), nil
}

// LevelDims returns the level raster dimensions (ceil of global/scale).
func (g Grid) LevelDims(level int) (int, int, error) {
	s, err := g.Scale(level)
	if err != nil {
		return 0, 0, err
	}
	return ceilDiv(g.width, s), ceilDiv(g.height, s), nil
}

// TileCols returns the number of tile columns at a level.
func (g Grid) TileCols(level int) (int, error) {
	w, _, err := g.LevelDims(level)
	if err != nil {
		return 0, err
	}
	return ceilDiv(w, g.tileSize), nil
}

// TileRows returns the number of tile rows at a level.
func (g Grid) TileRows(level int) (int, error) {
	_, h, err := g.LevelDims(level)
	if err != nil {
		return 0, err
	}
	return ceilDiv(h, g.tileSize), nil
}

// GlobalToTile maps a global pixel to its (tile, local) address at a level.
// Local offsets are in level pixels.
func (g Grid) GlobalToTile(x, y, level int) (Address, error) {
	if err := g.checkLevel(level); err != nil {
		return Address{}, err
	}
	if x < 0 || y < 0 {
		return Address{}, domain.NewValidation("coordinate", "must be non-negative")
	}
	if x >= g.width || y >= g.height {
		return Address{}, domain.NewValidation("coordinate", "outside dataset bounds")
	}
	s := 1 << (g.levels - 1 - level)
	lx := x / s
	ly := y / s
	return Address{
		Level:  level,
		TileX:  lx / g.tileSize,
		TileY:  ly / g.tileSize,
		LocalX: lx % g.tileSize,
		LocalY: ly % g.tileSize,
	}, nil
}

// TileToGlobal maps a (tile, local) address back to the global coordinate of
// that level pixel's top-left corner. At the finest level this inverts
// GlobalToTile exactly; at coarser levels the result snaps to the level's
// pixel grid (a multiple of Scale).
func (g Grid) TileToGlobal(a Address) (int, int, error) {
	if err := g.checkLevel(a.Level); err != nil {
		return 0, 0, err
	}
	cols, _ := g.TileCols(a.Level)
	rows, _ := g.TileRows(a.Level)
	if a.TileX < 0 || a.TileX >= cols || a.TileY < 0 || a.TileY >= rows {
		return 0, 0, domain.NewValidation("tile", "outside level grid")
	}
	rect, err := g.TileRect(a.Level, a.TileX, a.TileY)
	if err != nil {
		return 0, 0, err
	}
	if a.LocalX < 0 || a.LocalX >= rect.Width() || a.LocalY < 0 || a.LocalY >= rect.Height() {
		return 0, 0, domain.NewValidation("local offset", "outside tile")
	}
	s := 1 << (g.levels - 1 - a.Level)
	gx := (a.TileX*g.tileSize + a.LocalX) * s
	gy := (a.TileY*g.tileSize + a.LocalY) * s
	return gx, gy, nil
}

// TileRect returns the tile's pixel rectangle in level coordinates, clipped
// at the raster edge: edge tiles may be smaller than tileSize, never larger.
func (g Grid) TileRect(level, tileX, tileY int) (region.BBox, error) {
	w, h, err := g.LevelDims(level)
	if err != nil {
		return region.BBox{}, err
	}
	cols := ceilDiv(w, g.tileSize)
	rows := ceilDiv(h, g.tileSize)
	if tileX < 0 || tileX >= cols || tileY < 0 || tileY >= rows {
		return region.BBox{}, domain.NewValidation("tile", "outside level grid")
	}
	x0 := tileX * g.tileSize
	y0 := tileY * g.tileSize
	tw := min(g.tileSize, w-x0)
	th := min(g.tileSize, h-y0)
	return region.Reconstruct(x0, y0, tw, th), nil
}

// TileRange returns the inclusive tile coordinate range intersecting a
// level-pixel bbox.
func (g Grid) TileRange(level int, b region.BBox) (tx0, ty0, tx1, ty1 int, err error) {
	w, h, err := g.LevelDims(level)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if b.X() >= w || b.Y() >= h {
		return 0, 0, 0, 0, domain.NewValidation("bbox", "outside level raster")
	}
	tx0 = b.X() / g.tileSize
	ty0 = b.Y() / g.tileSize
	tx1 = min(b.Right()-1, w-1) / g.tileSize
	ty1 = min(b.Bottom()-1, h-1) / g.tileSize
	return tx0, ty0, tx1, ty1, nil
}

// GlobalBBoxToLevel maps a global-pixel bbox to level pixels, flooring the
// origin and ceiling the far edge, then clipping to the level raster.
func (g Grid) GlobalBBoxToLevel(b region.BBox, level int) (region.BBox, error) {
	s, err := g.Scale(level)
	if err != nil {
		return region.BBox{}, err
	}
	lb := b.ScaleDown(s)
	w, h, _ := g.LevelDims(level)
	clipped, ok := lb.Intersect(region.Reconstruct(0, 0, w, h))
	if !ok {
		return region.BBox{}, domain.NewValidation("bbox", "outside level raster")
	}
	return clipped, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
