package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/broker/memory"
	"github.com/xraph/punt/cli"
	"github.com/xraph/punt/config"
	"github.com/xraph/punt/dlq"
	"github.com/xraph/punt/engine"
	"github.com/xraph/punt/job"
)

func memoryConnector(b *memory.Broker) cli.Option {
	return cli.WithConnector(func(*config.Config) (broker.Session, broker.Session, error) {
		return b.Session(), b.Session(), nil
	})
}

// runCLI executes the command tree with args and returns stdout.
func runCLI(t *testing.T, ctx context.Context, setup cli.Setup, b *memory.Broker, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand(setup, memoryConnector(b))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestEnqueue(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()

	out, err := runCLI(t, context.Background(), nil, b, "enqueue", "sayHello", `{"name":"Punt"}`, "--topic", "greetings")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deliveryID := strings.TrimSpace(out)

	recs, _ := b.Range(context.Background(), "__punt__:greetings", 0)
	if len(recs) != 1 || recs[0].ID != deliveryID {
		t.Fatalf("stream = %+v, printed %q", recs, deliveryID)
	}
	if name, _ := recs[0].Field(punt.FieldJob); name != "sayHello" {
		t.Errorf("job = %q", name)
	}
}

func TestEnqueue_InvalidPayload(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	if _, err := runCLI(t, context.Background(), nil, b, "enqueue", "sayHello", `{nope`); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := runCLI(t, context.Background(), nil, b, "enqueue"); err == nil {
		t.Fatal("expected error without a job name")
	}
}

func TestDeadletter(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	svc := dlq.NewService(b)
	for _, name := range []string{"a", "b"} {
		if _, err := svc.Push(context.Background(), job.NewMessage(name, nil).Failed(errors.New("boom"), time.UnixMilli(1))); err != nil {
			t.Fatal(err)
		}
	}

	out, err := runCLI(t, context.Background(), nil, b, "deadletter", "list", "--limit", "1")
	if err != nil {
		t.Fatalf("deadletter list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q, want 1", lines)
	}
	var e dlq.Entry
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatal(err)
	}
	if e.Job != "a" || e.Message.RetryCount != 1 {
		t.Errorf("entry = %+v", e)
	}

	out, err = runCLI(t, context.Background(), nil, b, "dlq", "count")
	if err != nil {
		t.Fatalf("dlq count: %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Errorf("count = %q, want 2", out)
	}
}

func TestWorker_ProcessesUntilCancelled(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	ctx := context.Background()
	stream := punt.StreamKey(punt.DefaultTopic)
	if err := b.EnsureGroup(ctx, stream, punt.DefaultGroup, broker.StartLatest); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(ctx, stream, map[string]any{
		punt.FieldJob:     "sayHello",
		punt.FieldMessage: `{"job":"sayHello","data":{"name":"Punt"},"retryCount":0,"lastAttemptedAt":null,"lastError":null}`,
	}); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var got string
	setup := func(eng *engine.Engine) error {
		eng.Register("sayHello", func(_ context.Context, data json.RawMessage) error {
			got = string(data)
			cancel()
			return nil
		})
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := runCLI(t, runCtx, setup, b, "worker", "--timeout", "10")
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if got != `{"name":"Punt"}` {
		t.Errorf("handler data = %q", got)
	}
	if p := b.Pending(stream, punt.DefaultGroup, punt.DefaultConsumer); len(p) != 0 {
		t.Errorf("pending = %v", p)
	}
}

func TestWorker_FatalOnUnknownHandler(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	ctx := context.Background()
	stream := punt.StreamKey(punt.DefaultTopic)
	if err := b.EnsureGroup(ctx, stream, "billing", broker.StartLatest); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(ctx, stream, map[string]any{
		punt.FieldJob:     "ghost",
		punt.FieldMessage: `{"job":"ghost","data":null,"retryCount":0,"lastAttemptedAt":null,"lastError":null}`,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, ctx, nil, b, "worker", "--timeout", "10", "--group", "billing", "--worker", "w-1")
	if !errors.Is(err, punt.ErrUnknownHandler) {
		t.Fatalf("worker = %v, want ErrUnknownHandler", err)
	}
}

func TestSetupError(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	boom := errors.New("bad setup")
	_, err := runCLI(t, context.Background(), func(*engine.Engine) error { return boom }, b, "dlq", "count")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want setup error", err)
	}
}

func TestMissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	if _, err := runCLI(t, context.Background(), nil, b, "dlq", "count", "--config", "/nonexistent/punt.yaml"); err == nil {
		t.Fatal("expected error for a missing --config file")
	}
}

func TestConnectError(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := cli.NewRootCommand(nil, cli.WithConnector(func(*config.Config) (broker.Session, broker.Session, error) {
		return nil, nil, errors.New("dial tcp: refused")
	}))
	cmd.SetArgs([]string{"enqueue", "x"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.ExecuteContext(context.Background()); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("err = %v", err)
	}
}

func TestWorker_AuditLogs(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := punt.StreamKey(punt.DefaultTopic)
	if err := b.EnsureGroup(ctx, stream, punt.DefaultGroup, broker.StartLatest); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(ctx, stream, map[string]any{
		punt.FieldJob:     "noop",
		punt.FieldMessage: `{"job":"noop","data":null,"retryCount":0,"lastAttemptedAt":null,"lastError":null}`,
	}); err != nil {
		t.Fatal(err)
	}

	cmd := cli.NewRootCommand(func(eng *engine.Engine) error {
		eng.Register("noop", func(context.Context, json.RawMessage) error {
			cancel()
			return nil
		})
		return nil
	}, memoryConnector(b))
	var errOut bytes.Buffer
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"worker", "--timeout", "10", "--audit"})

	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}
	logs := errOut.String()
	for _, want := range []string{"action=job.started", "action=job.completed", "action=worker.shutdown"} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q", want)
		}
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := runCLI(t, ctx, nil, b, "serve", "--addr", "127.0.0.1:0", "--with-worker")
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestWorker_ShutdownDuringRecoveryExitsCleanly(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	ctx := context.Background()
	stream := punt.StreamKey(punt.DefaultTopic)
	if err := b.EnsureGroup(ctx, stream, punt.DefaultGroup, broker.StartLatest); err != nil {
		t.Fatal(err)
	}
	// A previous run read the record and died before acking it.
	if _, err := b.Append(ctx, stream, map[string]any{
		punt.FieldJob:     "sayHello",
		punt.FieldMessage: `{"job":"sayHello","data":null,"retryCount":0,"lastAttemptedAt":null,"lastError":null}`,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ReadGroup(ctx, broker.ReadArgs{
		Stream: stream, Group: punt.DefaultGroup, Consumer: punt.DefaultConsumer,
		Start: broker.StartNew, Block: -1,
	}); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var handlerErr error
	setup := func(eng *engine.Engine) error {
		eng.Register("sayHello", func(hctx context.Context, _ json.RawMessage) error {
			cancel()
			handlerErr = hctx.Err()
			return nil
		})
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := runCLI(t, runCtx, setup, b, "worker", "--timeout", "10")
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if handlerErr != nil {
		t.Errorf("recovered handler saw %v", handlerErr)
	}
	if p := b.Pending(stream, punt.DefaultGroup, punt.DefaultConsumer); len(p) != 0 {
		t.Errorf("pending = %v, want none", p)
	}
}

func TestWorker_MaxRetriesZero(t *testing.T) {
	t.Chdir(t.TempDir())
	b := memory.New()
	ctx := context.Background()
	stream := punt.StreamKey(punt.DefaultTopic)
	if err := b.EnsureGroup(ctx, stream, punt.DefaultGroup, broker.StartLatest); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(ctx, stream, map[string]any{
		punt.FieldJob:     "sayHello",
		punt.FieldMessage: `{"job":"sayHello","data":null,"retryCount":0,"lastAttemptedAt":null,"lastError":null}`,
	}); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	setup := func(eng *engine.Engine) error {
		eng.Register("sayHello", func(context.Context, json.RawMessage) error {
			cancel()
			return errors.New("broken")
		})
		return nil
	}

	if _, err := runCLI(t, runCtx, setup, b, "worker", "--timeout", "10", "--max-retries", "0"); err != nil {
		t.Fatalf("worker: %v", err)
	}

	if n, _ := b.Len(ctx, punt.DeadLetterKey); n != 1 {
		t.Errorf("dead letters = %d, want 1", n)
	}
	if n, _ := b.SetSize(ctx, punt.RetrySetKey); n != 0 {
		t.Errorf("retries = %d, want 0", n)
	}
}
