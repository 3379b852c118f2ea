// Package api is the HTTP client for the reading backend. It exposes the
// three calls the playback core consumes — queue fetch, item text fetch,
// and progress post — and a closed error taxonomy so failures can be
// classified without inspecting message text.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 240
)

// Client talks to one backend instance with one bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a backend client. The base URL may carry a path
// prefix; trailing slashes are ignored.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// FetchQueue loads the reading queue, including finished items so resume
// percentages stay visible.
func (c *Client) FetchQueue(ctx context.Context) (*Queue, error) {
	var queue Queue
	if err := c.getJSON(ctx, "/playback/queue?include_done=true&limit=50", &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// FetchItemText loads the full readable payload for one item.
func (c *Client) FetchItemText(ctx context.Context, itemID int) (*ItemText, error) {
	var payload ItemText
	path := fmt.Sprintf("/items/%d/text", itemID)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PostProgress reports a reading percentage for an item. The source tag
// tells the backend what produced the update (live playback vs a queued
// flush).
func (c *Client) PostProgress(ctx context.Context, itemID, percent int, source string) error {
	body, err := json.Marshal(progressPayload{Percent: clampPercent(percent), Source: source})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	path := fmt.Sprintf("/items/%d/progress", itemID)
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post progress: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if c.token == "" {
		return nil, ErrNoToken
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(raw)),
	}
}
