package zoomdex

import (
	"context"
	"net/http"
)

// Datasets lists every dataset the server discovered in tile storage.
func (c *Client) Datasets(ctx context.Context) (DatasetList, error) {
	var out DatasetList
	if err := c.do(ctx, http.MethodGet, "/v1/datasets", nil, &out); err != nil {
		return DatasetList{}, err
	}
	return out, nil
}

// Dataset fetches one dataset descriptor. Unknown IDs surface as ErrNotFound.
func (c *Client) Dataset(ctx context.Context, datasetID string) (Dataset, error) {
	var out Dataset
	if err := c.do(ctx, http.MethodGet, datasetPath(datasetID, ""), nil, &out); err != nil {
		return Dataset{}, err
	}
	return out, nil
}
