package query

import "github.com/deepfield-io/zoomdex/internal/domain/region"

// Hit is a single similarity-search result.
type Hit struct {
	rank    int
	patchID uint32
	score   float64
	bbox    region.BBox
	level   int
}

// NewHit creates a search hit. Rank is 1-based.
func NewHit(rank int, patchID uint32, score float64, bbox region.BBox, level int) Hit {
	return Hit{rank: rank, patchID: patchID, score: score, bbox: bbox, level: level}
}

// Rank returns the 1-based position by descending score.
func (h *Hit) Rank() int { return h.rank }

// PatchID returns the matched patch id.
func (h *Hit) PatchID() uint32 { return h.patchID }

// Score returns the cosine similarity in [-1, 1].
func (h *Hit) Score() float64 { return h.score }

// BBox returns the patch bounds in dataset-global pixels.
func (h *Hit) BBox() region.BBox { return h.bbox }

// Level returns the pyramid level the patch was sampled from.
func (h *Hit) Level() int { return h.level }

// Outcome is the result of a search call. Cancelled is a distinct outcome,
// not an error: when true, Hits is empty and the caller aborted the work.
type Outcome struct {
	Hits      []Hit
	Cancelled bool
}

// Detection is one detected region.
type Detection struct {
	rank       int
	bbox       region.BBox
	confidence float64
}

// NewDetection creates a detection. Rank is 1-based.
func NewDetection(rank int, bbox region.BBox, confidence float64) Detection {
	return Detection{rank: rank, bbox: bbox, confidence: confidence}
}

// Rank returns the 1-based position by descending confidence.
func (d *Detection) Rank() int { return d.rank }

// BBox returns the detected region in dataset-global pixels.
func (d *Detection) BBox() region.BBox { return d.bbox }

// Confidence returns the detection confidence in [0, 1].
func (d *Detection) Confidence() float64 { return d.confidence }

// DetectOutcome is the result of a detect call. Cancelled is a distinct
// outcome, never an error and never a silently truncated success.
type DetectOutcome struct {
	Detections []Detection
	Cancelled  bool
}

// Alternative is a non-primary classification label.
type Alternative struct {
	Label      string
	Confidence float64
}

// Classification is the result of classifying a region. Fallback marks the
// deterministic unknown result produced when any step failed.
type Classification struct {
	Primary      string
	Confidence   float64
	Alternatives []Alternative
	Fallback     bool
}

// UnknownLabel is the designated fallback category.
const UnknownLabel = "unknown"

// FallbackClassification returns the deterministic never-fails result:
// identical on every call so clients can rely on its shape.
func FallbackClassification() Classification {
	return Classification{
		Primary:    UnknownLabel,
		Confidence: 0,
		Fallback:   true,
	}
}
