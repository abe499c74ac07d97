// Package gridtable provides an HTTP client for a remote REST-table service:
// a row store exposing filtered select, insert, and update operations per
// table. It is the third persistence backend behind the job store, used by
// deployments without direct database access.
package gridtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Row is one record in a remote table.
type Row map[string]any

// Config holds connection settings for the grid-table service.
type Config struct {
	// BaseURL is the service root, e.g. "https://grid.internal".
	BaseURL string

	// Token is the bearer token sent with every request.
	Token string

	// Timeout is the per-request HTTP timeout (default: 15s).
	Timeout time.Duration
}

// Client talks to the grid-table HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a grid-table client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Ping verifies the service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/ping", nil, nil)
}

type listResponse struct {
	Rows []Row `json:"rows"`
}

// ListRows returns up to limit rows of the table matching every filter
// key/value pair exactly.
func (c *Client) ListRows(ctx context.Context, table string, filter map[string]string, limit int) ([]Row, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for k, v := range filter {
		q.Set("filter."+k, v)
	}

	path := "/api/v1/tables/" + url.PathEscape(table) + "/rows"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp listResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// InsertRow appends a row to the table and returns the stored row.
func (c *Client) InsertRow(ctx context.Context, table string, row Row) (Row, error) {
	var stored Row
	path := "/api/v1/tables/" + url.PathEscape(table) + "/rows"
	if err := c.doRequest(ctx, http.MethodPost, path, row, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

type updateRequest struct {
	Filter map[string]string `json:"filter"`
	Patch  Row               `json:"patch"`
}

type updateResponse struct {
	Updated int `json:"updated"`
}

// UpdateRows patches every row matching the filter and returns how many rows
// were modified.
func (c *Client) UpdateRows(ctx context.Context, table string, filter map[string]string, patch Row) (int, error) {
	path := "/api/v1/tables/" + url.PathEscape(table) + "/rows"
	var resp updateResponse
	err := c.doRequest(ctx, http.MethodPatch, path, updateRequest{Filter: filter, Patch: patch}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// doRequest performs an HTTP request with authentication and JSON handling.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("grid-table request failed with status %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
