package zoomdex

import (
	"context"
	"net/http"
)

// BuildIndex starts an asynchronous index build and returns the queued job.
// Poll IndexStatus to follow its progress. A build already in flight
// surfaces as ErrAlreadyIndexing.
func (c *Client) BuildIndex(ctx context.Context, datasetID string) (Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodPost, datasetPath(datasetID, "index"), nil, &out); err != nil {
		return Job{}, err
	}
	return out, nil
}

// IndexStatus reports the dataset's index state and the job that last
// touched it.
func (c *Client) IndexStatus(ctx context.Context, datasetID string) (IndexStatus, error) {
	var out IndexStatus
	if err := c.do(ctx, http.MethodGet, datasetPath(datasetID, "index"), nil, &out); err != nil {
		return IndexStatus{}, err
	}
	return out, nil
}

// InvalidateIndex drops the dataset's index and its persisted segment.
// The next BuildIndex re-ingests from scratch.
func (c *Client) InvalidateIndex(ctx context.Context, datasetID string) error {
	return c.do(ctx, http.MethodDelete, datasetPath(datasetID, "index"), nil, nil)
}
