// Package stream fans punt lifecycle events out to in-process
// subscribers. A Feed is registered as an engine extension and the admin
// API relays it to HTTP clients as server-sent events.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued     EventType = "job.enqueued"
	EventJobStarted      EventType = "job.started"
	EventJobCompleted    EventType = "job.completed"
	EventJobRetrying     EventType = "job.retrying"
	EventJobDeadLettered EventType = "job.deadlettered"
	EventRetryPromoted   EventType = "retry.promoted"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type EventType `json:"type"`

	// Timestamp is when the feed observed the event.
	Timestamp time.Time `json:"ts"`

	// Topic is the job topic the event belongs to, "job:<name>".
	Topic string `json:"topic"`

	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload of every event. Fields that do not apply
// to an event type are omitted.
type JobEventData struct {
	DeliveryID string `json:"delivery_id,omitempty"`
	Job        string `json:"job"`
	RetryCount int    `json:"retry_count"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	DueAt      int64  `json:"due_at,omitempty"`
}
