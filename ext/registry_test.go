package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
)

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobEnqueued(_ context.Context, _ string, _ job.Message) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Delivery) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Delivery, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Delivery, _ job.Message, _ time.Time) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobDeadLettered(_ context.Context, _ job.Message) error {
	e.calls = append(e.calls, "OnJobDeadLettered")
	return nil
}

func (e *allHooksExt) OnRetryPromoted(_ context.Context, _ job.Message) error {
	e.calls = append(e.calls, "OnRetryPromoted")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// enqueueOnlyExt only implements the enqueue hook.
type enqueueOnlyExt struct {
	calls []string
}

func (e *enqueueOnlyExt) Name() string { return "enqueue-only" }

func (e *enqueueOnlyExt) OnJobEnqueued(_ context.Context, _ string, _ job.Message) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobEnqueued(_ context.Context, _ string, _ job.Message) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	eo := &enqueueOnlyExt{}
	r.Register(all)
	r.Register(eo)

	ctx := context.Background()
	m := job.NewMessage("test-job", nil)

	r.EmitJobEnqueued(ctx, "1-0", m)
	if len(all.calls) != 1 || len(eo.calls) != 1 {
		t.Fatalf("expected both called once, got all=%v eo=%v", all.calls, eo.calls)
	}

	r.EmitJobStarted(ctx, &job.Delivery{ID: "1-0", Message: m})
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(eo.calls) != 1 {
		t.Fatalf("eo: should still have 1 call, got %v", eo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	m := job.NewMessage("test-job", nil)
	d := &job.Delivery{ID: "1-0", Job: m.Job, Message: m}

	r.EmitJobEnqueued(ctx, d.ID, m)
	r.EmitJobStarted(ctx, d)
	r.EmitJobCompleted(ctx, d, time.Second)
	r.EmitJobRetrying(ctx, d, m.Failed(errors.New("x"), time.Now()), time.Now())
	r.EmitJobDeadLettered(ctx, m)
	r.EmitRetryPromoted(ctx, m)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobCompleted",
		"OnJobRetrying", "OnJobDeadLettered", "OnRetryPromoted", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register failing first; the next extension still fires.
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobEnqueued(ctx, "1-0", job.NewMessage("x", nil))
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()
	d := &job.Delivery{}

	r.EmitJobEnqueued(ctx, "", job.Message{})
	r.EmitJobStarted(ctx, d)
	r.EmitJobCompleted(ctx, d, time.Second)
	r.EmitJobRetrying(ctx, d, job.Message{}, time.Now())
	r.EmitJobDeadLettered(ctx, job.Message{})
	r.EmitRetryPromoted(ctx, job.Message{})
	r.EmitShutdown(ctx)
}
