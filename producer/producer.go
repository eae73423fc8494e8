// Package producer appends jobs to a topic stream.
//
// A producer does not need a worker, a registry, or even knowledge of
// which jobs exist: it serializes a fresh message and appends it. Any
// worker reading the same topic picks it up.
//
//	p := producer.New(session)
//	id, err := producer.Enqueue(ctx, p, "sayHello", HelloInput{Name: "Punt"})
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
)

const tracerName = "github.com/xraph/punt/producer"

// Option configures a Producer.
type Option func(*Producer)

// WithTopic sets the topic jobs are appended to. Defaults to
// punt.DefaultTopic.
func WithTopic(topic string) Option {
	return func(p *Producer) { p.stream = punt.StreamKey(topic) }
}

// WithExtensions notifies the registry's JobEnqueued hooks.
func WithExtensions(r *ext.Registry) Option {
	return func(p *Producer) { p.extensions = r }
}

// WithTracer sets the tracer used for enqueue spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Producer) { p.tracer = t }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Producer) { p.logger = l }
}

// Producer appends messages to a topic stream.
type Producer struct {
	session    broker.Session
	stream     string
	extensions *ext.Registry
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New creates a producer over session.
func New(session broker.Session, opts ...Option) *Producer {
	p := &Producer{
		session: session,
		stream:  punt.StreamKey(punt.DefaultTopic),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream returns the stream key jobs are appended to.
func (p *Producer) Stream() string { return p.stream }

// EnqueueRaw appends a fresh message for name with a pre-serialized
// payload and returns the broker-assigned record id. The job name is not
// checked against any registry.
func (p *Producer) EnqueueRaw(ctx context.Context, name string, data json.RawMessage) (string, error) {
	ctx, span := p.tracer.Start(ctx, "punt.job.enqueue",
		trace.WithAttributes(
			attribute.String("punt.job.name", name),
			attribute.String("punt.stream", p.stream),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	m := job.NewMessage(name, data)
	fields, err := m.Fields()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	id, err := p.session.Append(ctx, p.stream, fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("enqueue %q: %w", name, err)
	}
	span.SetAttributes(attribute.String("punt.delivery.id", id))

	p.logger.Debug("job enqueued",
		slog.String("job_name", name),
		slog.String("delivery_id", id),
		slog.String("stream", p.stream),
	)

	if p.extensions != nil {
		p.extensions.EmitJobEnqueued(ctx, id, m)
	}
	return id, nil
}

// Enqueue marshals payload to JSON and appends it as a job named name.
func Enqueue[T any](ctx context.Context, p *Producer, name string, payload T) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return p.EnqueueRaw(ctx, name, data)
}
