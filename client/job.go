package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/punt/api"
	"github.com/xraph/punt/dlq"
)

// Enqueue submits a job and returns the delivery id the server assigned.
// payload is marshalled to JSON; a json.RawMessage is sent as is.
func (c *Client) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("punt/client: marshal payload: %w", err)
		}
		data = raw
	}

	var resp api.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", api.EnqueueRequest{Job: name, Data: data}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Health returns nil when the server can reach its broker.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// DeadLetters lists up to limit dead letters, oldest first. A limit of
// zero uses the server default.
func (c *Client) DeadLetters(ctx context.Context, limit int64) ([]*dlq.Entry, error) {
	path := "/v1/deadletter"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.FormatInt(limit, 10)}}.Encode()
	}
	var resp api.ListDLQResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// DeadLetterCount returns the length of the dead letter stream.
func (c *Client) DeadLetterCount(ctx context.Context) (int64, error) {
	return c.count(ctx, "/v1/deadletter/count")
}

// RetryCount returns the number of entries waiting in the retry set.
func (c *Client) RetryCount(ctx context.Context) (int64, error) {
	return c.count(ctx, "/v1/retries/count")
}

func (c *Client) count(ctx context.Context, path string) (int64, error) {
	var resp api.CountResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Stats retrieves the worker's broker summary.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
