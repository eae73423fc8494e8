package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/punt/audit_hook"
	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestDelivery() *job.Delivery {
	m := job.NewMessage("sendEmail", nil)
	m.RetryCount = 1
	return &job.Delivery{
		ID:      "1700000000000-0",
		Stream:  "__punt__:__default__",
		Job:     "sendEmail",
		Message: m,
	}
}

func failedMessage(retryCount int) job.Message {
	m := job.NewMessage("sendEmail", nil)
	m.RetryCount = retryCount - 1
	return m.Failed(errors.New("smtp down"), time.UnixMilli(1_700_000_000_000))
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Job lifecycle tests ──────────────────────────────

func TestExtension_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnJobEnqueued(context.Background(), "1-0", job.NewMessage("sendEmail", nil)); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceDelivery {
		t.Errorf("Resource: want %q, got %q", ah.ResourceDelivery, evt.Resource)
	}
	if evt.Category != ah.CategoryJob {
		t.Errorf("Category: want %q, got %q", ah.CategoryJob, evt.Category)
	}
	if evt.ResourceID != "1-0" {
		t.Errorf("ResourceID: want %q, got %q", "1-0", evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["job_name"] != "sendEmail" {
		t.Errorf("Metadata[job_name]: want %q, got %v", "sendEmail", evt.Metadata["job_name"])
	}
}

func TestExtension_JobStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	d := newTestDelivery()

	if err := e.OnJobStarted(context.Background(), d); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobStarted, evt.Action)
	}
	if evt.Metadata["stream"] != d.Stream {
		t.Errorf("Metadata[stream]: want %q, got %v", d.Stream, evt.Metadata["stream"])
	}
	if evt.Metadata["retry_count"] != 1 {
		t.Errorf("Metadata[retry_count]: want 1, got %v", evt.Metadata["retry_count"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	elapsed := 150 * time.Millisecond

	if err := e.OnJobCompleted(context.Background(), newTestDelivery(), elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	due := time.UnixMilli(1_700_000_004_000)

	if err := e.OnJobRetrying(context.Background(), newTestDelivery(), failedMessage(2), due); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "smtp down" {
		t.Errorf("Reason: want %q, got %q", "smtp down", evt.Reason)
	}
	if evt.Metadata["retry_count"] != 2 {
		t.Errorf("Metadata[retry_count]: want 2, got %v", evt.Metadata["retry_count"])
	}
	if evt.Metadata["due_at"] != "2023-11-14T22:13:24Z" {
		t.Errorf("Metadata[due_at]: got %v", evt.Metadata["due_at"])
	}
}

func TestExtension_JobDeadLettered(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnJobDeadLettered(context.Background(), failedMessage(20)); err != nil {
		t.Fatalf("OnJobDeadLettered: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobDeadLettered {
		t.Errorf("Action: want %q, got %q", ah.ActionJobDeadLettered, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Metadata["error"] != "smtp down" {
		t.Errorf("Metadata[error]: got %v", evt.Metadata["error"])
	}
}

func TestExtension_RetryPromotedAndShutdown(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()

	if err := e.OnRetryPromoted(ctx, failedMessage(3)); err != nil {
		t.Fatal(err)
	}
	if evt := rec.last(); evt.Action != ah.ActionRetryPromoted || evt.Metadata["retry_count"] != 3 {
		t.Errorf("promoted event = %+v", evt)
	}

	if err := e.OnShutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if evt := rec.last(); evt.Action != ah.ActionWorkerShutdown || evt.Category != ah.CategoryWorker {
		t.Errorf("shutdown event = %+v", evt)
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobCompleted, ah.ActionJobDeadLettered))
	ctx := context.Background()

	// Enqueued is not enabled, so it is skipped.
	if err := e.OnJobEnqueued(ctx, "1-0", job.NewMessage("x", nil)); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (enqueued disabled), got %d", rec.count())
	}

	if err := e.OnJobCompleted(ctx, newTestDelivery(), 50*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobDeadLettered(ctx, failedMessage(1)); err != nil {
		t.Fatalf("OnJobDeadLettered: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── Recorder adapters ────────────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)
	if err := e.OnJobEnqueued(context.Background(), "1-0", job.NewMessage("x", nil)); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, captured.Action)
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := ah.New(ah.LogRecorder(logger))

	if err := e.OnJobDeadLettered(context.Background(), failedMessage(5)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"level=WARN", "msg=audit", "action=job.deadlettered", `reason="smtp down"`, "retry_count=5"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	if err := e.OnJobEnqueued(context.Background(), "1-0", job.NewMessage("x", nil)); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	d := newTestDelivery()

	reg.EmitJobEnqueued(ctx, d.ID, d.Message)
	reg.EmitJobStarted(ctx, d)
	reg.EmitJobCompleted(ctx, d, 50*time.Millisecond)
	reg.EmitJobRetrying(ctx, d, failedMessage(2), time.Now())
	reg.EmitJobDeadLettered(ctx, failedMessage(3))
	reg.EmitRetryPromoted(ctx, failedMessage(2))
	reg.EmitShutdown(ctx)

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 7 {
		t.Errorf("expected 7 actions, got %d", got)
	}
}
