package producer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker/memory"
	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
	"github.com/xraph/punt/producer"
)

type helloInput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestEnqueue_AppendsZeroStateMessage(t *testing.T) {
	b := memory.New()
	p := producer.New(b)
	ctx := context.Background()

	in := helloInput{ID: uuid.NewString(), Name: "Punt"}
	id, err := producer.Enqueue(ctx, p, "sayHello", in)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	recs, err := b.Range(ctx, punt.StreamKey(punt.DefaultTopic), 0)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != id {
		t.Fatalf("records = %+v, want one with id %q", recs, id)
	}

	if v, _ := recs[0].Field(punt.FieldJob); v != "sayHello" {
		t.Errorf("job field = %q", v)
	}
	raw, _ := recs[0].Field(punt.FieldMessage)
	m, err := job.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.RetryCount != 0 || m.LastAttemptedAt != nil || m.LastError != nil {
		t.Errorf("message not in zero state: %+v", m)
	}
	want := `{"id":"` + in.ID + `","name":"Punt"}`
	if string(m.Data) != want {
		t.Errorf("Data = %s, want %s", m.Data, want)
	}
}

func TestEnqueue_Topic(t *testing.T) {
	b := memory.New()
	p := producer.New(b, producer.WithTopic("emails"))
	ctx := context.Background()

	if _, err := p.EnqueueRaw(ctx, "send", nil); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if p.Stream() != "__punt__:emails" {
		t.Errorf("Stream = %q", p.Stream())
	}
	if n, _ := b.Len(ctx, "__punt__:emails"); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
	if n, _ := b.Len(ctx, punt.StreamKey(punt.DefaultTopic)); n != 0 {
		t.Errorf("default topic Len = %d, want 0", n)
	}
}

func TestEnqueue_UnregisteredNameAccepted(t *testing.T) {
	p := producer.New(memory.New())
	if _, err := p.EnqueueRaw(context.Background(), "nobody-handles-this", nil); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
}

func TestEnqueue_MarshalError(t *testing.T) {
	p := producer.New(memory.New())
	_, err := producer.Enqueue(context.Background(), p, "bad", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestEnqueue_BrokerError(t *testing.T) {
	b := memory.New()
	_ = b.Close()
	p := producer.New(b)

	_, err := p.EnqueueRaw(context.Background(), "x", nil)
	if !errors.Is(err, punt.ErrBrokerClosed) {
		t.Fatalf("EnqueueRaw = %v, want ErrBrokerClosed", err)
	}
}

type enqueueRecorder struct {
	ids []string
}

func (e *enqueueRecorder) Name() string { return "recorder" }

func (e *enqueueRecorder) OnJobEnqueued(_ context.Context, id string, _ job.Message) error {
	e.ids = append(e.ids, id)
	return nil
}

func TestEnqueue_EmitsHookAndSpan(t *testing.T) {
	rec := &enqueueRecorder{}
	reg := ext.NewRegistry(nil)
	reg.Register(rec)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	p := producer.New(memory.New(),
		producer.WithExtensions(reg),
		producer.WithTracer(tp.Tracer("test")),
	)
	id, err := p.EnqueueRaw(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if len(rec.ids) != 1 || rec.ids[0] != id {
		t.Errorf("hook ids = %v, want [%s]", rec.ids, id)
	}
	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "punt.job.enqueue" {
		t.Fatalf("spans = %v", spans)
	}
}
