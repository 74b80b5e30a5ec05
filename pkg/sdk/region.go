package zoomdex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Region extracts a pixel-exact region as PNG. Provenance (pixel source,
// pyramid level, tile count) arrives in the X-Zoomdex-* response headers.
func (c *Client) Region(ctx context.Context, datasetID string, box BBox) (Snippet, error) {
	q := url.Values{}
	q.Set("x", strconv.Itoa(box.X))
	q.Set("y", strconv.Itoa(box.Y))
	q.Set("width", strconv.Itoa(box.Width))
	q.Set("height", strconv.Itoa(box.Height))

	resp, err := c.send(ctx, http.MethodGet, datasetPath(datasetID, "region")+"?"+q.Encode(), nil)
	if err != nil {
		return Snippet{}, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Snippet{}, c.apiError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snippet{}, fmt.Errorf("zoomdex: read region body: %w", err)
	}

	level, _ := strconv.Atoi(resp.Header.Get("X-Zoomdex-Level"))
	tiles, _ := strconv.Atoi(resp.Header.Get("X-Zoomdex-Tile-Count"))
	return Snippet{
		PNG:       raw,
		Source:    resp.Header.Get("X-Zoomdex-Source"),
		Level:     level,
		TileCount: tiles,
	}, nil
}

// Reconstruct builds the dataset's full-resolution asset, or reuses one that
// already exists. AssetInfo.Created reports which of the two happened.
func (c *Client) Reconstruct(ctx context.Context, datasetID string) (AssetInfo, error) {
	var out AssetInfo
	if err := c.do(ctx, http.MethodPost, datasetPath(datasetID, "reconstruct"), nil, &out); err != nil {
		return AssetInfo{}, err
	}
	return out, nil
}
