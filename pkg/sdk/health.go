package zoomdex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Health fetches the server health report. A degraded server answers
// HTTP 503 yet still ships a full report; that is a valid result here,
// not an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	resp, err := c.send(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Health{}, c.apiError(resp)
	}

	var out Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Health{}, fmt.Errorf("zoomdex: decode health response: %w", err)
	}
	return out, nil
}
