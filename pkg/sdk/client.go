package zoomdex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepfield-io/zoomdex/internal/version"
)

const (
	defaultTimeout = 30 * time.Second

	// Error envelopes are small. The cap keeps a misbehaving server or
	// proxy from making the client buffer arbitrary bytes.
	maxErrorBody = 64 << 10
)

// Client talks to a zoomdex server over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	httpc     *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("zoomdex: base URL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("zoomdex: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("zoomdex: base URL must be http or https, got %q", baseURL)
	}

	cfg := &clientConfig{
		timeout:   defaultTimeout,
		userAgent: version.UserAgent(),
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	httpc := cfg.httpc
	if httpc == nil {
		httpc = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		apiKey:    cfg.apiKey,
		userAgent: cfg.userAgent,
		httpc:     httpc,
	}, nil
}

// do executes one JSON round trip. A nil out discards the response body;
// any 2xx status is success.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("zoomdex: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// send builds and executes one request. The caller owns the response body.
func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("zoomdex: encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("zoomdex: build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zoomdex: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// apiError decodes the {kind, message} envelope of a failed request.
func (c *Client) apiError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{Status: resp.StatusCode, Kind: kindInternal, Message: resp.Status}
	}

	var envelope struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Kind == "" {
		// Not our envelope: a proxy or load balancer answered.
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Kind: kindInternal, Message: msg}
	}

	return &APIError{
		Status:  resp.StatusCode,
		Kind:    envelope.Kind,
		Message: envelope.Message,
		State:   envelope.State,
	}
}

// drain finishes and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}

func datasetPath(datasetID, suffix string) string {
	p := "/v1/datasets/" + url.PathEscape(datasetID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}
