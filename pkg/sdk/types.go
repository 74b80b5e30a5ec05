package zoomdex

import "time"

// BBox is a pixel-space bounding box in full-resolution coordinates.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DatasetSummary is one entry of the dataset listing.
type DatasetSummary struct {
	ID         string `json:"id"`
	IndexState string `json:"index_state"`
}

// DatasetList is the dataset listing.
type DatasetList struct {
	Items []DatasetSummary `json:"items"`
	Total int              `json:"total"`
}

// Dataset describes one tile pyramid and its index state.
type Dataset struct {
	ID         string `json:"id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TileSize   int    `json:"tile_size"`
	Levels     int    `json:"levels"`
	Format     string `json:"format"`
	IndexState string `json:"index_state"`
}

// Job reports the progress of one index build.
type Job struct {
	ID         string       `json:"id"`
	DatasetID  string       `json:"dataset_id"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Report     *BuildReport `json:"report,omitempty"`
}

// BuildReport summarizes a finished index build.
type BuildReport struct {
	Sampled  int           `json:"sampled"`
	Encoded  int           `json:"encoded"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

// ItemFailure records one patch skipped during a build.
type ItemFailure struct {
	PatchID uint32 `json:"patch_id"`
	Reason  string `json:"reason"`
}

// IndexStatus is a dataset's index state plus the most recent build job,
// when one ran in the server's lifetime.
type IndexStatus struct {
	State string `json:"state"`
	Job   *Job   `json:"job,omitempty"`
}

// SearchRequest holds the parameters of a semantic search. Zero values take
// server defaults (TopK 20, no score floor, no spatial filter).
type SearchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
	Expand   bool    `json:"expand"`
	Level    *int    `json:"level,omitempty"`
	Within   *BBox   `json:"within,omitempty"`
}

// Hit is one search result.
type Hit struct {
	Rank    int     `json:"rank"`
	PatchID uint32  `json:"patch_id"`
	Score   float64 `json:"score"`
	BBox    BBox    `json:"bbox"`
	Level   int     `json:"level"`
}

// SearchOutcome is a ranked result list. Cancelled reports that the
// server abandoned the query before completion; Hits is then empty.
type SearchOutcome struct {
	Hits      []Hit `json:"items"`
	Total     int   `json:"total"`
	Cancelled bool  `json:"cancelled"`
}

// DetectRequest holds the parameters of an object detection pass.
type DetectRequest struct {
	Query               string  `json:"query"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxResults          int     `json:"max_results"`
}

// Detection is one detected instance.
type Detection struct {
	Rank       int     `json:"rank"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// DetectOutcome is the result of a detection pass.
type DetectOutcome struct {
	Detections []Detection `json:"items"`
	Total      int         `json:"total"`
	Cancelled  bool        `json:"cancelled"`
}

// Alternative is a non-primary classification candidate.
type Alternative struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classification labels a region against the server's category catalog.
// Fallback marks answers produced without the encoder.
type Classification struct {
	Primary      string        `json:"primary"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Fallback     bool          `json:"fallback"`
}

// Snippet is an extracted region: encoded PNG bytes plus provenance.
type Snippet struct {
	PNG       []byte
	Source    string // "asset" or "stitched"
	Level     int    // pyramid level that served the pixels
	TileCount int    // tiles touched (0 when served from an asset)
}

// AssetInfo describes a full-resolution reconstruction asset.
type AssetInfo struct {
	DatasetID string `json:"dataset_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int    `json:"size_bytes"`
	Created   bool   `json:"created"`
}

// IndexSummary counts tracked and query-ready indexes.
type IndexSummary struct {
	Tracked int `json:"tracked"`
	Ready   int `json:"ready"`
}

// Health is the server health report.
type Health struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Indexes IndexSummary      `json:"indexes"`
}
