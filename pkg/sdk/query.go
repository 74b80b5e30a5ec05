package zoomdex

import (
	"context"
	"net/http"
)

// Search runs a text query against the dataset's patch index. Results are
// ranked by similarity; an index that is still building surfaces as
// ErrNotReady with the current state in APIError.State.
func (c *Client) Search(ctx context.Context, datasetID string, req SearchRequest) (SearchOutcome, error) {
	var out SearchOutcome
	if err := c.do(ctx, http.MethodPost, datasetPath(datasetID, "search"), req, &out); err != nil {
		return SearchOutcome{}, err
	}
	return out, nil
}

// Detect finds distinct instances matching the query, with overlapping
// candidates suppressed server-side.
func (c *Client) Detect(ctx context.Context, datasetID string, req DetectRequest) (DetectOutcome, error) {
	var out DetectOutcome
	if err := c.do(ctx, http.MethodPost, datasetPath(datasetID, "detect"), req, &out); err != nil {
		return DetectOutcome{}, err
	}
	return out, nil
}

// Classify labels a region against the server's category catalog. It always
// yields an answer: with no usable encoder or catalog the server returns a
// fallback classification rather than an error.
func (c *Client) Classify(ctx context.Context, datasetID string, box BBox) (Classification, error) {
	in := struct {
		BBox BBox `json:"bbox"`
	}{BBox: box}

	var out Classification
	if err := c.do(ctx, http.MethodPost, datasetPath(datasetID, "classify"), in, &out); err != nil {
		return Classification{}, err
	}
	return out, nil
}
