package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/punt"
)

// Message is the unit of work appended to a topic stream.
type Message struct {
	Job             string          `json:"job"`
	Data            json.RawMessage `json:"data"`
	RetryCount      int             `json:"retryCount"`
	LastAttemptedAt *int64          `json:"lastAttemptedAt"`
	LastError       *string         `json:"lastError"`
}

// NewMessage returns a message for a fresh job with no prior attempts.
func NewMessage(name string, data json.RawMessage) Message {
	return Message{Job: name, Data: data}
}

// Failed returns the snapshot that follows a failed attempt at time at.
// The receiver is left untouched.
func (m Message) Failed(err error, at time.Time) Message {
	next := m
	next.RetryCount = m.RetryCount + 1

	ms := at.UnixMilli()
	next.LastAttemptedAt = &ms

	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	next.LastError = &reason

	return next
}

// LastAttempt returns the time of the most recent attempt, if any.
func (m Message) LastAttempt() (time.Time, bool) {
	if m.LastAttemptedAt == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*m.LastAttemptedAt), true
}

// Encode serializes the message to its wire form.
func (m Message) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode message %q: %w", m.Job, err)
	}
	return string(b), nil
}

// Fields returns the stream record fields for the message.
func (m Message) Fields() (map[string]any, error) {
	encoded, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		punt.FieldJob:     m.Job,
		punt.FieldMessage: encoded,
	}, nil
}

// Decode parses a message from its wire form. An empty string or a JSON
// null yields punt.ErrEmptyMessage.
func Decode(raw string) (Message, error) {
	if raw == "" || raw == "null" {
		return Message{}, punt.ErrEmptyMessage
	}

	var m *Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m == nil {
		return Message{}, punt.ErrEmptyMessage
	}
	return *m, nil
}
