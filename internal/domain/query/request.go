// Package query defines validated request and result value objects for the
// search, detection, and classification paths.
package query

import (
	"strings"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
)

// Search parameter limits.
const (
	MaxQueryLength   = 1024
	DefaultTopK      = 20
	MaxTopK          = 100
	DefaultThreshold = 0.6
	DefaultMaxDet    = 50
	MaxDetResults    = 500
)

// NormalizeText trims and lowercases query text. Cache keys and encoder
// inputs always go through this so "Galaxy " and "galaxy" share one entry.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SearchRequest is a validated similarity-search query.
type SearchRequest struct {
	text     string
	topK     int
	minScore float64
	expand   bool
	filter   Filter
}

// NewSearchRequest validates and normalizes search parameters.
// Defaults: topK=20 (clamped to 100), minScore=0.
func NewSearchRequest(text string, topK int, minScore float64, expand bool, f Filter) (SearchRequest, error) {
	text = NormalizeText(text)
	if text == "" {
		return SearchRequest{}, domain.NewValidation("query", "required")
	}
	if len(text) > MaxQueryLength {
		return SearchRequest{}, domain.NewValidation("query", "too long")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if minScore < 0 || minScore > 1 {
		return SearchRequest{}, domain.NewValidation("min_score", "must be between 0 and 1")
	}
	return SearchRequest{text: text, topK: topK, minScore: minScore, expand: expand, filter: f}, nil
}

// Text returns the normalized query text.
func (r *SearchRequest) Text() string { return r.text }

// TopK returns the number of candidates to retrieve.
func (r *SearchRequest) TopK() int { return r.topK }

// MinScore returns the minimum similarity threshold.
func (r *SearchRequest) MinScore() float64 { return r.minScore }

// Expand reports whether probe expansion is requested.
func (r *SearchRequest) Expand() bool { return r.expand }

// Filter returns the candidate pre-filter.
func (r *SearchRequest) Filter() Filter { return r.filter }

// DetectRequest is a validated detection query.
type DetectRequest struct {
	text       string
	threshold  float64
	maxResults int
}

// NewDetectRequest validates detection parameters. A zero threshold selects
// the default 0.6; maxResults defaults to 50 and is clamped to 500.
func NewDetectRequest(text string, threshold float64, maxResults int) (DetectRequest, error) {
	text = NormalizeText(text)
	if text == "" {
		return DetectRequest{}, domain.NewValidation("query", "required")
	}
	if len(text) > MaxQueryLength {
		return DetectRequest{}, domain.NewValidation("query", "too long")
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return DetectRequest{}, domain.NewValidation("confidence_threshold", "must be between 0 and 1")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxDet
	}
	if maxResults > MaxDetResults {
		maxResults = MaxDetResults
	}
	return DetectRequest{text: text, threshold: threshold, maxResults: maxResults}, nil
}

// Text returns the normalized query text.
func (r *DetectRequest) Text() string { return r.text }

// Threshold returns the confidence cutoff.
func (r *DetectRequest) Threshold() float64 { return r.threshold }

// MaxResults returns the result cap.
func (r *DetectRequest) MaxResults() int { return r.maxResults }

// Filter narrows search candidates before scoring.
type Filter struct {
	// Level restricts hits to patches sampled from one pyramid level.
	// Negative means no restriction.
	Level int
	// Within drops hits whose bbox does not intersect the window.
	Within *region.BBox
}

// NoFilter matches every candidate.
func NoFilter() Filter { return Filter{Level: -1} }

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool { return f.Level < 0 && f.Within == nil }
