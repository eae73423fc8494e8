package api

import (
	"encoding/json"

	"github.com/xraph/punt/dlq"
)

// EnqueueRequest is the body of POST /v1/jobs.
type EnqueueRequest struct {
	Job  string          `json:"job" binding:"required"`
	Data json.RawMessage `json:"data"`
}

// EnqueueResponse is returned when a job was appended.
type EnqueueResponse struct {
	ID     string `json:"id"`
	Job    string `json:"job"`
	Stream string `json:"stream"`
}

// ListDLQRequest holds the query of GET /v1/deadletter.
type ListDLQRequest struct {
	Limit int64 `form:"limit" binding:"omitempty,min=0"`
}

// ListDLQResponse lists dead letters oldest first.
type ListDLQResponse struct {
	Entries []*dlq.Entry `json:"entries"`
}

// CountResponse carries a single count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// StatsResponse summarises the worker's broker state.
type StatsResponse struct {
	Stream      string   `json:"stream"`
	Group       string   `json:"group"`
	Consumer    string   `json:"consumer"`
	Retries     int64    `json:"retries"`
	DeadLetters int64    `json:"deadLetters"`
	Handlers    []string `json:"handlers"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventsRequest selects the topics of an event stream. Topics default to
// the firehose.
type EventsRequest struct {
	Topics []string `form:"topic"`
}
