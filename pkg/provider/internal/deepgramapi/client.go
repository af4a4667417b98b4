// Package deepgramapi is the REST plumbing shared by the Deepgram listen and
// speak providers.
package deepgramapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BaseURL is the public v1 API.
const BaseURL = "https://api.deepgram.com/v1"

const (
	defaultTimeout = 30 * time.Second
	errorBodyLimit = 512
)

// ErrNoAPIKey is returned by [New] for an empty key.
var ErrNoAPIKey = errors.New("deepgram: apiKey must not be empty")

// Client authenticates requests against one API base.
type Client struct {
	apiKey string
	base   string
	hc     *http.Client
}

// New returns a client for base, or [BaseURL] when base is empty. A nil hc
// gets a client with a 30s timeout.
func New(apiKey, base string, hc *http.Client) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if base == "" {
		base = BaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{apiKey: apiKey, base: strings.TrimRight(base, "/"), hc: hc}, nil
}

// URL returns the endpoint for path with q encoded.
func (c *Client) URL(path string, q url.Values) string {
	return c.base + path + "?" + q.Encode()
}

// Post sends body to path and returns the full response body. Any status
// other than 200 is an error carrying the start of the body.
func (c *Client) Post(ctx context.Context, path string, q url.Values, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path, q), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("deepgram: %s: HTTP %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %s: read body: %w", path, err)
	}
	return data, nil
}
