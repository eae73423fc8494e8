package dlq

import (
	"context"
	"fmt"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/job"
)

// Entry is a record read back from the dead letter stream.
type Entry struct {
	// ID is the stream record id.
	ID string `json:"id"`

	// Job is the record's job field.
	Job string `json:"job"`

	// Message is the decoded message. It is the zero value when Raw could
	// not be decoded.
	Message job.Message `json:"message"`

	// Raw is the message field exactly as stored.
	Raw string `json:"raw"`

	// Malformed is set when Raw is not a valid message.
	Malformed bool `json:"malformed,omitempty"`
}

// Service appends to and inspects the dead letter stream.
type Service struct {
	session broker.Session
	key     string
}

// NewService creates a dead letter service over session.
func NewService(session broker.Session) *Service {
	return &Service{session: session, key: punt.DeadLetterKey}
}

// Key returns the dead letter stream key.
func (s *Service) Key() string { return s.key }

// Push appends m to the dead letter stream under m.Job and returns the
// record id.
func (s *Service) Push(ctx context.Context, m job.Message) (string, error) {
	return s.PushAs(ctx, m.Job, m)
}

// PushAs appends m with the record's job field set to name. The worker
// uses it to keep the name the record was dispatched under.
func (s *Service) PushAs(ctx context.Context, name string, m job.Message) (string, error) {
	fields, err := m.Fields()
	if err != nil {
		return "", err
	}
	fields[punt.FieldJob] = name
	id, err := s.session.Append(ctx, s.key, fields)
	if err != nil {
		return "", fmt.Errorf("dead letter %q: %w", name, err)
	}
	return id, nil
}

// List returns up to limit entries, oldest first. A limit <= 0 returns
// every entry.
func (s *Service) List(ctx context.Context, limit int64) ([]*Entry, error) {
	records, err := s.session.Range(ctx, s.key, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	entries := make([]*Entry, 0, len(records))
	for i := range records {
		entries = append(entries, toEntry(&records[i]))
	}
	return entries, nil
}

// Count returns the number of dead-lettered messages.
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.session.Len(ctx, s.key)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

func toEntry(rec *broker.Record) *Entry {
	e := &Entry{ID: rec.ID}
	e.Job, _ = rec.Field(punt.FieldJob)
	e.Raw, _ = rec.Field(punt.FieldMessage)

	m, err := job.Decode(e.Raw)
	if err != nil {
		e.Malformed = true
		return e
	}
	e.Message = m
	return e
}
