// Package patch defines the indexed patch record value object.
package patch

import (
	"fmt"

	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// Record is one indexed patch: a dense per-dataset id, its bounding box in
// dataset-global pixels, the pyramid level it was sampled from, and its
// quality score. Records are immutable once written; the embedding vector
// is stored columnar in the index segment, not here.
type Record struct {
	id      uint32
	bbox    region.BBox
	level   int
	quality float64
}

// New validates and creates a Record. The bbox must lie fully inside the
// dataset's [0,width)×[0,height) pixel space.
func New(id uint32, bbox region.BBox, level int, quality float64, imgW, imgH int) (Record, error) {
	if !bbox.Inside(imgW, imgH) {
		return Record{}, fmt.Errorf("patch %d bbox %s outside dataset %dx%d", id, bbox, imgW, imgH)
	}
	if level < 0 {
		return Record{}, fmt.Errorf("patch %d level must be non-negative, got %d", id, level)
	}
	if quality < 0 {
		return Record{}, fmt.Errorf("patch %d quality must be non-negative, got %f", id, quality)
	}
	return Record{id: id, bbox: bbox, level: level, quality: quality}, nil
}

// Reconstruct creates a Record without validation (segment hydration).
func Reconstruct(id uint32, bbox region.BBox, level int, quality float64) Record {
	return Record{id: id, bbox: bbox, level: level, quality: quality}
}

// ID returns the dense per-dataset patch id.
func (r Record) ID() uint32 { return r.id }

// BBox returns the patch bounds in dataset-global pixels.
func (r Record) BBox() region.BBox { return r.bbox }

// Level returns the pyramid level the patch was sampled from.
func (r Record) Level() int { return r.level }

// Quality returns the sampler's quality score.
func (r Record) Quality() float64 { return r.quality }
