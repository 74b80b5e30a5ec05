package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/metrics"
	"github.com/deepfield-io/zoomdex/internal/pyramid"
)

type fetchedTile struct {
	col int
	row int
	img image.Image
}

// stitchRegion composites the tiles intersecting bbox at one level and
// returns an opaque NRGBA sized exactly bbox.Width×bbox.Height, upscaling
// from level pixels when the level is coarser than 1:1. Missing or corrupt
// tiles report NotFound so the caller can retry a coarser level.
func (e *Extractor) stitchRegion(ctx context.Context, datasetID string, grid pyramid.Grid, bbox region.BBox, level int) (*image.NRGBA, int, error) {
	start := time.Now()

	lb, err := grid.GlobalBBoxToLevel(bbox, level)
	if err != nil {
		return nil, 0, err
	}
	scale, err := grid.Scale(level)
	if err != nil {
		return nil, 0, err
	}

	canvas, origin, tiles, err := e.stitchCanvas(ctx, datasetID, grid, level, lb)
	if err != nil {
		return nil, 0, err
	}

	crop := image.Rect(lb.X()-origin.X, lb.Y()-origin.Y, lb.Right()-origin.X, lb.Bottom()-origin.Y)

	var out *image.NRGBA
	if scale == 1 {
		out = cropNRGBA(canvas, crop)
	} else {
		// Upscale the level crop back to global pixels, then cut the exact
		// bbox window out of it.
		scaled := image.NewNRGBA(image.Rect(0, 0, lb.Width()*scale, lb.Height()*scale))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), canvas, crop, xdraw.Src, nil)
		ox := bbox.X() - lb.X()*scale
		oy := bbox.Y() - lb.Y()*scale
		out = cropNRGBA(scaled, image.Rect(ox, oy, ox+bbox.Width(), oy+bbox.Height()))
	}
	forceOpaque(out)

	metrics.StitchDuration.Observe(time.Since(start).Seconds())
	return out, tiles, nil
}

// LevelRaster assembles one complete pyramid level at its native
// resolution. Intended for coarse overview levels; a finest-level call on a
// gigapixel dataset is the reconstruction path's job, not this one's.
func (e *Extractor) LevelRaster(ctx context.Context, datasetID string, level int) (*image.NRGBA, error) {
	desc, err := e.store.Descriptor(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("level raster %s: %w", datasetID, err)
	}
	grid := pyramid.NewGrid(desc)
	lw, lh, err := grid.LevelDims(level)
	if err != nil {
		return nil, fmt.Errorf("level raster %s: %w", datasetID, err)
	}

	canvas, origin, _, err := e.stitchCanvas(ctx, datasetID, grid, level, region.Reconstruct(0, 0, lw, lh))
	if err != nil {
		return nil, fmt.Errorf("level raster %s: %w", datasetID, err)
	}
	out := cropNRGBA(canvas, image.Rect(-origin.X, -origin.Y, lw-origin.X, lh-origin.Y))
	forceOpaque(out)
	return out, nil
}

// stitchCanvas fetches the tiles covering a level-pixel bbox and composites
// them onto one canvas. The returned origin is the canvas's top-left corner
// in level pixels.
func (e *Extractor) stitchCanvas(ctx context.Context, datasetID string, grid pyramid.Grid, level int, lb region.BBox) (*image.NRGBA, image.Point, int, error) {
	tx0, ty0, tx1, ty1, err := grid.TileRange(level, lb)
	if err != nil {
		return nil, image.Point{}, 0, err
	}

	tiles, err := e.fetchTiles(ctx, datasetID, level, tx0, ty0, tx1, ty1)
	if err != nil {
		return nil, image.Point{}, 0, err
	}

	origin := image.Pt(tx0*grid.TileSize(), ty0*grid.TileSize())
	corner, err := grid.TileRect(level, tx1, ty1)
	if err != nil {
		return nil, image.Point{}, 0, err
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, corner.Right()-origin.X, corner.Bottom()-origin.Y))
	for _, t := range tiles {
		at := image.Pt((t.col-tx0)*grid.TileSize(), (t.row-ty0)*grid.TileSize())
		b := t.img.Bounds()
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(b.Size())}, t.img, b.Min, draw.Src)
	}
	return canvas, origin, len(tiles), nil
}

// fetchTiles retrieves and decodes an inclusive tile rectangle with bounded
// parallelism. A missing or undecodable tile fails the whole fetch with
// NotFound: the level cannot serve complete pixels.
func (e *Extractor) fetchTiles(ctx context.Context, datasetID string, level, tx0, ty0, tx1, ty1 int) ([]fetchedTile, error) {
	cols := tx1 - tx0 + 1
	rows := ty1 - ty0 + 1
	tiles := make([]fetchedTile, cols*rows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchParallelism)
	for row := ty0; row <= ty1; row++ {
		for col := tx0; col <= tx1; col++ {
			slot := (row-ty0)*cols + (col - tx0)
			g.Go(func() error {
				raw, err := e.store.Tile(gctx, datasetID, level, col, row)
				if err != nil {
					metrics.TileFetchesTotal.WithLabelValues("error").Inc()
					return err
				}
				img, _, err := image.Decode(bytes.NewReader(raw))
				if err != nil {
					metrics.TileFetchesTotal.WithLabelValues("error").Inc()
					return fmt.Errorf("tile %d/%d_%d undecodable (%v): %w", level, col, row, err, domain.ErrNotFound)
				}
				metrics.TileFetchesTotal.WithLabelValues("ok").Inc()
				tiles[slot] = fetchedTile{col: col, row: row, img: img}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tiles, nil
}

// cropNRGBA copies rect out of src into a fresh image anchored at the
// origin.
func cropNRGBA(src *image.NRGBA, rect image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), src, rect.Min, draw.Src)
	return out
}

// toRGB re-renders src as opaque NRGBA anchored at the origin, dropping any
// alpha channel the codec produced.
func toRGB(src image.Image) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	forceOpaque(out)
	return out
}

func forceOpaque(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
}
