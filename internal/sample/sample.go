// Package sample generates candidate patches for index builds: multi-scale
// sliding windows over the pyramid with variance and edge-density quality
// filtering, plus interest-point and hierarchical sampling modes. Every
// emitted bounding box is in dataset-global pixels.
package sample

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	"github.com/deepfield-io/zoomdex/internal/extract"
	"github.com/deepfield-io/zoomdex/internal/pyramid"
)

// hierarchyDepth is how many pyramid levels hierarchical mode samples,
// counting down from the finest.
const hierarchyDepth = 3

// overviewEdgeCap bounds the raster interest-point analysis runs on: the
// finest level whose larger edge fits under the cap is used.
const overviewEdgeCap = 2048

// Patch is one sampled candidate: its pixels, bounds in dataset-global
// pixels, the pyramid level that sized the window, and a quality score.
type Patch struct {
	Image   *image.NRGBA
	BBox    region.BBox
	Level   int
	Quality float64
}

// Options tunes a sampling pass. Zero values select the defaults.
type Options struct {
	// Sizes are window edge lengths in level pixels, sampled smallest
	// first.
	Sizes []int
	// StrideRatios are window strides relative to the window size.
	StrideRatios []float64
	// MinVariance rejects windows whose luminance variance is below
	// MinVariance×255².
	MinVariance float64
	// MinEdgeDensity rejects windows whose edge-pixel share is below it.
	MinEdgeDensity float64
	// InterestPoints samples windows centered on Harris corners instead of
	// a regular grid. Takes precedence over Hierarchical.
	InterestPoints bool
	// Hierarchical samples across several pyramid levels for scale
	// coverage instead of the finest level only.
	Hierarchical bool
	// MaxPerScale caps emitted patches per window size (0 = unlimited).
	MaxPerScale int
}

func (o *Options) applyDefaults() {
	if len(o.Sizes) == 0 {
		o.Sizes = []int{64, 128, 256}
	} else {
		o.Sizes = slices.Clone(o.Sizes)
	}
	slices.Sort(o.Sizes)
	if len(o.StrideRatios) == 0 {
		o.StrideRatios = []float64{0.5, 0.75, 1.0}
	}
	if o.MinVariance <= 0 {
		o.MinVariance = 0.01
	}
	if o.MinEdgeDensity <= 0 {
		o.MinEdgeDensity = 0.01
	}
}

func (o *Options) validate() error {
	for _, s := range o.Sizes {
		if s <= 0 {
			return domain.NewValidation("sizes", fmt.Sprintf("window size must be positive, got %d", s))
		}
	}
	for _, r := range o.StrideRatios {
		if r <= 0 || r > 1 {
			return domain.NewValidation("stride_ratios", fmt.Sprintf("ratio must be in (0, 1], got %g", r))
		}
	}
	return nil
}

// descriptors is the consumer interface over dataset metadata (ISP).
type descriptors interface {
	Descriptor(ctx context.Context, datasetID string) (dataset.Descriptor, error)
}

// pixels is the consumer interface over the region extractor.
type pixels interface {
	Extract(ctx context.Context, datasetID string, bbox region.BBox) (extract.Snippet, error)
	LevelRaster(ctx context.Context, datasetID string, level int) (*image.NRGBA, error)
}

// Sampler builds patch streams for datasets.
type Sampler struct {
	store  descriptors
	pix    pixels
	logger *zap.Logger
}

// New creates a sampler.
func New(store descriptors, pix pixels, logger *zap.Logger) *Sampler {
	return &Sampler{store: store, pix: pix, logger: logger}
}

// Stream starts a lazy, finite sampling pass. Pixels are fetched one
// window at a time during iteration; calling Stream again restarts the
// pass from the beginning. Unknown datasets fail here, before iteration.
func (s *Sampler) Stream(ctx context.Context, datasetID string, opts Options) (*Stream, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	desc, err := s.store.Descriptor(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", datasetID, err)
	}
	grid := pyramid.NewGrid(desc)

	st := &Stream{
		ctx:  ctx,
		smp:  s,
		id:   datasetID,
		opts: opts,
		grid: grid,
	}
	if !opts.InterestPoints {
		st.cursor = newGridCursor(grid, sampleLevels(grid, opts), opts)
	}
	return st, nil
}

// sampleLevels returns the pyramid levels a pass visits, finest first.
func sampleLevels(grid pyramid.Grid, opts Options) []int {
	if !opts.Hierarchical {
		return []int{grid.FinestLevel()}
	}
	var levels []int
	for i := 0; i < hierarchyDepth; i++ {
		if lv := grid.FinestLevel() - i; lv >= 0 {
			levels = append(levels, lv)
		}
	}
	return levels
}

// window is one candidate position before pixel inspection.
type window struct {
	bbox    region.BBox
	level   int
	sizeIdx int
}

// Stream is a pull iterator over quality-filtered patches, in the shape of
// bufio.Scanner: Next advances, Patch returns the current value, Err
// reports what stopped a prematurely-ended iteration.
type Stream struct {
	ctx  context.Context
	smp  *Sampler
	id   string
	opts Options
	grid pyramid.Grid

	cursor *gridCursor // nil in interest-point mode
	plan   []window    // interest-point windows, built on first Next
	planAt int

	sizeIdx     int
	sizeEmitted int

	cur  Patch
	err  error
	done bool
}

// Next advances to the next quality-passing patch. It returns false when
// the pass is exhausted, the context ends, or extraction fails; Err
// distinguishes the cases.
func (st *Stream) Next() bool {
	if st.done || st.err != nil {
		return false
	}
	for {
		if err := st.ctx.Err(); err != nil {
			st.err = err
			return false
		}
		w, ok := st.nextWindow()
		if !ok {
			st.done = true
			return false
		}

		snip, err := st.smp.pix.Extract(st.ctx, st.id, w.bbox)
		if err != nil {
			// A data gap under one window skips that window only.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			st.err = fmt.Errorf("sample %s: %w", st.id, err)
			return false
		}

		q, ok := patchQuality(snip.Image, st.opts.MinVariance, st.opts.MinEdgeDensity)
		if !ok {
			continue
		}

		st.cur = Patch{Image: snip.Image, BBox: w.bbox, Level: w.level, Quality: q}
		st.noteEmitted(w.sizeIdx)
		return true
	}
}

// Patch returns the patch produced by the last successful Next.
func (st *Stream) Patch() Patch { return st.cur }

// Err returns the error that ended iteration early, or nil after a normal
// exhaustion.
func (st *Stream) Err() error { return st.err }

func (st *Stream) noteEmitted(sizeIdx int) {
	if sizeIdx != st.sizeIdx {
		st.sizeIdx = sizeIdx
		st.sizeEmitted = 0
	}
	st.sizeEmitted++
}

func (st *Stream) capReached(sizeIdx int) bool {
	if st.opts.MaxPerScale <= 0 {
		return false
	}
	if sizeIdx != st.sizeIdx {
		return false
	}
	return st.sizeEmitted >= st.opts.MaxPerScale
}

func (st *Stream) nextWindow() (window, bool) {
	if st.cursor != nil {
		for {
			w, ok := st.cursor.next()
			if !ok {
				return window{}, false
			}
			if st.capReached(w.sizeIdx) {
				st.cursor.skipSize()
				continue
			}
			return w, true
		}
	}

	if st.plan == nil {
		plan, err := st.smp.interestWindows(st.ctx, st.id, st.grid, st.opts)
		if err != nil {
			st.err = err
			return window{}, false
		}
		if plan == nil {
			plan = []window{}
		}
		st.plan = plan
	}
	for st.planAt < len(st.plan) {
		w := st.plan[st.planAt]
		st.planAt++
		if st.capReached(w.sizeIdx) {
			continue
		}
		return w, true
	}
	return window{}, false
}

// interestWindows detects Harris corners on a coarse overview raster and
// plans finest-level windows centered on them, strongest response first,
// at least half a window apart.
func (s *Sampler) interestWindows(ctx context.Context, datasetID string, grid pyramid.Grid, opts Options) ([]window, error) {
	level := overviewLevel(grid)
	raster, err := s.pix.LevelRaster(ctx, datasetID, level)
	if err != nil {
		return nil, fmt.Errorf("sample %s: overview: %w", datasetID, err)
	}
	scale, err := grid.Scale(level)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", datasetID, err)
	}

	gray, w, h := grayFloat(raster)
	resp := harrisResponse(gray, w, h)

	var out []window
	for si, size := range opts.Sizes {
		minDist := size / (2 * scale)
		for _, pt := range peakCorners(resp, w, h, minDist, maxInterestPoints) {
			cx := pt.X * scale
			cy := pt.Y * scale
			x := cx - size/2
			y := cy - size/2
			if x < 0 || y < 0 || x+size > grid.Width() || y+size > grid.Height() {
				continue
			}
			out = append(out, window{
				bbox:    region.Reconstruct(x, y, size, size),
				level:   grid.FinestLevel(),
				sizeIdx: si,
			})
		}
	}
	s.logger.Debug("interest-point plan built",
		zap.String("dataset", datasetID),
		zap.Int("overview_level", level),
		zap.Int("windows", len(out)))
	return out, nil
}

// overviewLevel picks the finest level whose larger edge stays under the
// analysis cap, falling back to the coarsest level.
func overviewLevel(grid pyramid.Grid) int {
	for level := grid.FinestLevel(); level > 0; level-- {
		lw, lh, err := grid.LevelDims(level)
		if err != nil {
			continue
		}
		if lw <= overviewEdgeCap && lh <= overviewEdgeCap {
			return level
		}
	}
	return 0
}

// gridCursor walks the multi-scale sliding-window plan lazily: levels
// finest-first, sizes ascending, one stride ratio at a time, rows top to
// bottom. Window placement uses floor(global/scale) level dimensions so
// every window maps fully inside the dataset.
type gridCursor struct {
	grid   pyramid.Grid
	levels []int
	sizes  []int
	ratios []float64

	li, si, ri int
	x, y       int
}

func newGridCursor(grid pyramid.Grid, levels []int, opts Options) *gridCursor {
	ratios := opts.StrideRatios
	if opts.Hierarchical {
		// Hierarchical passes use half-window overlap at every level.
		ratios = []float64{0.5}
	}
	return &gridCursor{grid: grid, levels: levels, sizes: opts.Sizes, ratios: ratios}
}

func (c *gridCursor) next() (window, bool) {
	for c.li < len(c.levels) {
		level := c.levels[c.li]
		scale, err := c.grid.Scale(level)
		if err != nil {
			c.li++
			continue
		}
		lw := c.grid.Width() / scale
		lh := c.grid.Height() / scale
		size := c.sizes[c.si]
		stride := int(float64(size) * c.ratios[c.ri])
		if stride < 1 {
			stride = 1
		}

		if lw >= size && lh >= size && c.y <= lh-size {
			if c.x <= lw-size {
				w := window{
					bbox:    region.Reconstruct(c.x*scale, c.y*scale, size*scale, size*scale),
					level:   level,
					sizeIdx: c.si,
				}
				c.x += stride
				return w, true
			}
			c.x = 0
			c.y += stride
			continue
		}
		c.advanceCombo()
	}
	return window{}, false
}

// skipSize abandons the current window size at the current level (its
// per-scale cap was reached) and moves to the next one.
func (c *gridCursor) skipSize() {
	c.x, c.y = 0, 0
	c.ri = 0
	c.si++
	if c.si >= len(c.sizes) {
		c.si = 0
		c.li++
	}
}

func (c *gridCursor) advanceCombo() {
	c.x, c.y = 0, 0
	c.ri++
	if c.ri >= len(c.ratios) {
		c.ri = 0
		c.si++
	}
	if c.si >= len(c.sizes) {
		c.si = 0
		c.li++
	}
}
