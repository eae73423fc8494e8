// Package broker defines the contract punt needs from the shared log:
// append-only streams with consumer groups, and a sorted set that holds
// retries until they fall due, with optimistic transactions over it.
//
// Two implementations ship with punt. broker/redis talks to a Redis
// server and is what production deployments use. broker/memory keeps
// everything in process with the same semantics and backs the unit tests.
//
// A Session is used by one activity at a time. The dispatch loop and the
// retry scheduler each hold their own, so a blocking read on one never
// delays the other.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGroupExists is returned by EnsureGroup when the consumer group is
	// already present.
	ErrGroupExists = errors.New("punt: consumer group already exists")

	// ErrTxAborted is returned by Watch when a watched key changed before
	// the transaction committed. Nothing from the transaction was applied.
	ErrTxAborted = errors.New("punt: transaction aborted by concurrent write")
)

// Read positions for ReadArgs.Start.
const (
	// StartNew reads records never delivered to any consumer of the group.
	StartNew = ">"
	// StartPending replays the consumer's own delivered but unacknowledged
	// records from the beginning.
	StartPending = "0"
	// StartLatest creates a group positioned after the current tail.
	StartLatest = "$"
)

// Record is a single stream entry.
type Record struct {
	ID     string
	Values map[string]string
}

// Field returns the value of a record field and whether it was present.
func (r *Record) Field(name string) (string, bool) {
	if r == nil || r.Values == nil {
		return "", false
	}
	v, ok := r.Values[name]
	return v, ok
}

// ReadArgs describes a consumer group read of at most one record.
type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string

	// Start is StartNew or StartPending.
	Start string

	// Block bounds how long to wait for a record. Zero waits forever and a
	// negative value does not wait at all.
	Block time.Duration
}

// Member is a sorted set member with its score.
type Member struct {
	Member string
	Score  float64
}

// Op is a write applied by Tx.Commit.
type Op interface {
	op()
}

// AppendOp appends a record to a stream.
type AppendOp struct {
	Stream string
	Values map[string]any
}

// RemoveOp removes a member from a sorted set.
type RemoveOp struct {
	Set    string
	Member string
}

func (AppendOp) op() {}
func (RemoveOp) op() {}

// Tx is the view of a session inside Watch.
type Tx interface {
	// RangeByScore returns up to limit members with score <= maxScore, in
	// ascending score order.
	RangeByScore(ctx context.Context, set string, maxScore int64, limit int64) ([]Member, error)

	// Commit applies all ops atomically. It returns ErrTxAborted if a
	// watched key was modified since Watch began.
	Commit(ctx context.Context, ops ...Op) error
}

// Session is a connection to the shared log.
type Session interface {
	// Append adds a record to the tail of stream and returns its id.
	Append(ctx context.Context, stream string, values map[string]any) (string, error)

	// ReadGroup reads at most one record for a consumer. It returns nil
	// with no error when nothing is available within args.Block.
	ReadGroup(ctx context.Context, args ReadArgs) (*Record, error)

	// Ack removes id from the group's pending entries.
	Ack(ctx context.Context, stream, group, id string) error

	// EnsureGroup creates the consumer group at start, creating the stream
	// if needed. It returns ErrGroupExists if the group is already there.
	EnsureGroup(ctx context.Context, stream, group, start string) error

	// Schedule adds member to set with score, replacing any previous score.
	Schedule(ctx context.Context, set string, score float64, member string) error

	// RangeByScore returns up to limit members with score <= maxScore, in
	// ascending score order. A limit <= 0 returns all of them.
	RangeByScore(ctx context.Context, set string, maxScore int64, limit int64) ([]Member, error)

	// Remove deletes member from set.
	Remove(ctx context.Context, set, member string) error

	// SetSize returns the number of members in set.
	SetSize(ctx context.Context, set string) (int64, error)

	// Range returns up to count records from the head of stream.
	Range(ctx context.Context, stream string, count int64) ([]Record, error)

	// Len returns the number of records in stream.
	Len(ctx context.Context, stream string) (int64, error)

	// Watch runs fn with optimistic concurrency over keys.
	Watch(ctx context.Context, fn func(Tx) error, keys ...string) error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
