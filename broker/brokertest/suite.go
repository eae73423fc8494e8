// Package brokertest holds a behavioral test suite that every
// broker.Session implementation must pass.
package brokertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/punt/broker"
)

// Factory returns two sessions over the same, empty data set.
type Factory func(t *testing.T) (broker.Session, broker.Session)

// Run executes the suite against sessions produced by newSessions.
func Run(t *testing.T, newSessions Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, a, b broker.Session)
	}{
		{"AppendAndRange", testAppendAndRange},
		{"EnsureGroupTwice", testEnsureGroupTwice},
		{"GroupStartsAtTail", testGroupStartsAtTail},
		{"ReadNewAndAck", testReadNewAndAck},
		{"ReadPendingReplays", testReadPendingReplays},
		{"PendingIsPerConsumer", testPendingIsPerConsumer},
		{"NonBlockingReadEmpty", testNonBlockingReadEmpty},
		{"BlockingReadTimesOut", testBlockingReadTimesOut},
		{"BlockingReadWakesOnAppend", testBlockingReadWakesOnAppend},
		{"SortedSet", testSortedSet},
		{"WatchCommit", testWatchCommit},
		{"WatchConflict", testWatchConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := newSessions(t)
			tt.fn(t, a, b)
		})
	}
}

const (
	stream = "__punt__:suite"
	group  = "workers"
	set    = "__punt__:suite-set"
)

func mustGroup(t *testing.T, s broker.Session) {
	t.Helper()
	if err := s.EnsureGroup(context.Background(), stream, group, broker.StartLatest); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
}

func mustAppend(t *testing.T, s broker.Session, v string) string {
	t.Helper()
	id, err := s.Append(context.Background(), stream, map[string]any{"job": "j", "message": v})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func read(t *testing.T, s broker.Session, consumer, start string, block time.Duration) *broker.Record {
	t.Helper()
	rec, err := s.ReadGroup(context.Background(), broker.ReadArgs{
		Stream: stream, Group: group, Consumer: consumer, Start: start, Block: block,
	})
	if err != nil {
		t.Fatalf("ReadGroup(%s): %v", start, err)
	}
	return rec
}

func testAppendAndRange(t *testing.T, a, _ broker.Session) {
	ctx := context.Background()
	first := mustAppend(t, a, "1")
	second := mustAppend(t, a, "2")
	if first == second {
		t.Fatalf("ids must be unique, both %q", first)
	}

	n, err := a.Len(ctx, stream)
	if err != nil || n != 2 {
		t.Fatalf("Len = %d, %v; want 2", n, err)
	}

	recs, err := a.Range(ctx, stream, 1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != first {
		t.Fatalf("Range(1) = %+v, want first record %q", recs, first)
	}
	if v, _ := recs[0].Field("message"); v != "1" {
		t.Errorf("message = %q, want 1", v)
	}
}

func testEnsureGroupTwice(t *testing.T, a, _ broker.Session) {
	mustGroup(t, a)
	err := a.EnsureGroup(context.Background(), stream, group, broker.StartLatest)
	if !errors.Is(err, broker.ErrGroupExists) {
		t.Fatalf("second EnsureGroup = %v, want ErrGroupExists", err)
	}
}

func testGroupStartsAtTail(t *testing.T, a, _ broker.Session) {
	mustAppend(t, a, "before")
	mustGroup(t, a)
	if rec := read(t, a, "c1", broker.StartNew, -1); rec != nil {
		t.Fatalf("record appended before the group was delivered: %+v", rec)
	}
	after := mustAppend(t, a, "after")
	rec := read(t, a, "c1", broker.StartNew, -1)
	if rec == nil || rec.ID != after {
		t.Fatalf("got %+v, want %q", rec, after)
	}
}

func testReadNewAndAck(t *testing.T, a, _ broker.Session) {
	mustGroup(t, a)
	id := mustAppend(t, a, "x")

	rec := read(t, a, "c1", broker.StartNew, -1)
	if rec == nil || rec.ID != id {
		t.Fatalf("got %+v, want %q", rec, id)
	}
	if again := read(t, a, "c1", broker.StartNew, -1); again != nil {
		t.Fatalf("record delivered twice: %+v", again)
	}

	if err := a.Ack(context.Background(), stream, group, id); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if p := read(t, a, "c1", broker.StartPending, -1); p != nil {
		t.Fatalf("acked record still pending: %+v", p)
	}
}

func testReadPendingReplays(t *testing.T, a, _ broker.Session) {
	mustGroup(t, a)
	first := mustAppend(t, a, "1")
	second := mustAppend(t, a, "2")
	read(t, a, "c1", broker.StartNew, -1)
	read(t, a, "c1", broker.StartNew, -1)

	p := read(t, a, "c1", broker.StartPending, -1)
	if p == nil || p.ID != first {
		t.Fatalf("pending head = %+v, want %q", p, first)
	}
	// Reading pending does not consume it.
	if again := read(t, a, "c1", broker.StartPending, -1); again == nil || again.ID != first {
		t.Fatalf("pending head changed without ack: %+v", again)
	}

	if err := a.Ack(context.Background(), stream, group, first); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	p = read(t, a, "c1", broker.StartPending, -1)
	if p == nil || p.ID != second {
		t.Fatalf("pending head = %+v, want %q", p, second)
	}
}

func testPendingIsPerConsumer(t *testing.T, a, _ broker.Session) {
	mustGroup(t, a)
	mustAppend(t, a, "x")
	read(t, a, "c1", broker.StartNew, -1)

	if p := read(t, a, "c2", broker.StartPending, -1); p != nil {
		t.Fatalf("c2 sees c1's pending record: %+v", p)
	}
}

func testNonBlockingReadEmpty(t *testing.T, a, _ broker.Session) {
	mustGroup(t, a)
	start := time.Now()
	if rec := read(t, a, "c1", broker.StartNew, -1); rec != nil {
		t.Fatalf("got %+v on empty stream", rec)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("non-blocking read took %v", elapsed)
	}
}

func testBlockingReadTimesOut(t *testing.T, a, _ broker.Session) {
	mustGroup(t, a)
	start := time.Now()
	if rec := read(t, a, "c1", broker.StartNew, 100*time.Millisecond); rec != nil {
		t.Fatalf("got %+v on empty stream", rec)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("blocking read returned after %v, want about 100ms", elapsed)
	}
}

func testBlockingReadWakesOnAppend(t *testing.T, a, b broker.Session) {
	mustGroup(t, a)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = b.Append(context.Background(), stream, map[string]any{"job": "j", "message": "late"})
	}()

	rec := read(t, a, "c1", broker.StartNew, 5*time.Second)
	if rec == nil {
		t.Fatal("expected the late record")
	}
	if v, _ := rec.Field("message"); v != "late" {
		t.Errorf("message = %q, want late", v)
	}
}

func testSortedSet(t *testing.T, a, _ broker.Session) {
	ctx := context.Background()
	for _, m := range []struct {
		member string
		score  float64
	}{{"c", 300}, {"a", 100}, {"b", 200}, {"later", 900}} {
		if err := a.Schedule(ctx, set, m.score, m.member); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	got, err := a.RangeByScore(ctx, set, 250, 1)
	if err != nil {
		t.Fatalf("RangeByScore: %v", err)
	}
	if len(got) != 1 || got[0].Member != "a" || got[0].Score != 100 {
		t.Fatalf("RangeByScore(250, 1) = %+v, want [a:100]", got)
	}

	got, _ = a.RangeByScore(ctx, set, 250, 0)
	if len(got) != 2 || got[1].Member != "b" {
		t.Fatalf("RangeByScore(250, all) = %+v, want [a b]", got)
	}

	if err := a.Remove(ctx, set, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	n, _ := a.SetSize(ctx, set)
	if n != 3 {
		t.Errorf("SetSize = %d, want 3", n)
	}
}

func testWatchCommit(t *testing.T, a, _ broker.Session) {
	ctx := context.Background()
	mustGroup(t, a)
	_ = a.Schedule(ctx, set, 10, "m")

	err := a.Watch(ctx, func(tx broker.Tx) error {
		ms, err := tx.RangeByScore(ctx, set, 10, 1)
		if err != nil {
			return err
		}
		if len(ms) != 1 {
			t.Fatalf("tx saw %d members, want 1", len(ms))
		}
		return tx.Commit(ctx,
			broker.AppendOp{Stream: stream, Values: map[string]any{"job": "j", "message": ms[0].Member}},
			broker.RemoveOp{Set: set, Member: ms[0].Member},
		)
	}, set)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if n, _ := a.SetSize(ctx, set); n != 0 {
		t.Errorf("SetSize = %d, want 0", n)
	}
	rec := read(t, a, "c1", broker.StartNew, -1)
	if rec == nil {
		t.Fatal("committed append not visible")
	}
	if v, _ := rec.Field("message"); v != "m" {
		t.Errorf("message = %q, want m", v)
	}
}

func testWatchConflict(t *testing.T, a, b broker.Session) {
	ctx := context.Background()
	_ = a.Schedule(ctx, set, 10, "m")

	err := a.Watch(ctx, func(tx broker.Tx) error {
		if _, err := tx.RangeByScore(ctx, set, 10, 1); err != nil {
			return err
		}
		// A concurrent writer on another session touches the watched key.
		if err := b.Schedule(ctx, set, 20, "other"); err != nil {
			return err
		}
		return tx.Commit(ctx,
			broker.AppendOp{Stream: stream, Values: map[string]any{"job": "j", "message": "m"}},
			broker.RemoveOp{Set: set, Member: "m"},
		)
	}, set)
	if !errors.Is(err, broker.ErrTxAborted) {
		t.Fatalf("Watch = %v, want ErrTxAborted", err)
	}

	if n, _ := a.SetSize(ctx, set); n != 2 {
		t.Errorf("SetSize = %d, want 2 (nothing removed)", n)
	}
	if n, _ := a.Len(ctx, stream); n != 0 {
		t.Errorf("Len = %d, want 0 (nothing appended)", n)
	}
}
