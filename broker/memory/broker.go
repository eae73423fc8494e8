// Package memory implements broker.Session entirely in process.
//
// Streams, consumer groups with per-consumer pending lists, sorted sets,
// and watched transactions behave like their Redis counterparts, which
// makes this broker a drop-in for unit tests and local development.
// Sessions obtained from the same Broker share data:
//
//	b := memory.New()
//	dispatch, retries := b, b.Session()
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker"
)

// Compile-time interface checks.
var (
	_ broker.Session = (*Broker)(nil)
	_ broker.Tx      = (*tx)(nil)
)

// Broker is an in-memory broker session. Safe for concurrent access.
type Broker struct {
	db     *db
	closed atomic.Bool
}

// New returns a broker session over a new, empty data set.
func New() *Broker {
	return &Broker{db: newDB()}
}

// Session returns another session over the same data. Closing one session
// leaves the others usable.
func (b *Broker) Session() *Broker {
	return &Broker{db: b.db}
}

type db struct {
	mu       sync.Mutex
	streams  map[string]*stream
	sets     map[string]map[string]float64
	versions map[string]uint64

	// notify is closed and replaced on every append to wake blocked readers.
	notify chan struct{}
}

type stream struct {
	entries []broker.Record
	index   map[string]int
	lastMs  int64
	lastSeq int64
	groups  map[string]*group
}

type group struct {
	// next is the index of the first entry not yet delivered to the group.
	next    int
	pending map[string][]string
}

func newDB() *db {
	return &db{
		streams:  make(map[string]*stream),
		sets:     make(map[string]map[string]float64),
		versions: make(map[string]uint64),
		notify:   make(chan struct{}),
	}
}

func (b *Broker) check() error {
	if b.closed.Load() {
		return punt.ErrBrokerClosed
	}
	return nil
}

// ──────────────────────────────────────────────────
// Streams
// ──────────────────────────────────────────────────

// Append adds a record to the tail of stream.
func (b *Broker) Append(_ context.Context, stream string, values map[string]any) (string, error) {
	if err := b.check(); err != nil {
		return "", err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	return b.db.append(stream, values), nil
}

// ReadGroup reads at most one record for a consumer, blocking for new
// records up to args.Block.
func (b *Broker) ReadGroup(ctx context.Context, args broker.ReadArgs) (*broker.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if args.Block > 0 {
		timer := time.NewTimer(args.Block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.db.mu.Lock()
		rec, err := b.db.readGroup(args)
		wake := b.db.notify
		b.db.mu.Unlock()

		if err != nil || rec != nil {
			return rec, err
		}
		if args.Start != broker.StartNew || args.Block < 0 {
			return nil, nil
		}

		select {
		case <-wake:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack removes id from the pending list of whichever consumer holds it.
func (b *Broker) Ack(_ context.Context, stream, group, id string) error {
	if err := b.check(); err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	s, ok := b.db.streams[stream]
	if !ok {
		return nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	for consumer, ids := range g.pending {
		for i, pid := range ids {
			if pid == id {
				g.pending[consumer] = append(ids[:i:i], ids[i+1:]...)
				b.db.touch(stream)
				return nil
			}
		}
	}
	return nil
}

// EnsureGroup creates a consumer group, creating the stream if needed.
func (b *Broker) EnsureGroup(_ context.Context, stream, groupName, start string) error {
	if err := b.check(); err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	s := b.db.stream(stream)
	if _, ok := s.groups[groupName]; ok {
		return broker.ErrGroupExists
	}

	g := &group{pending: make(map[string][]string)}
	switch start {
	case broker.StartLatest:
		g.next = len(s.entries)
	case "0", "0-0":
		g.next = 0
	default:
		return fmt.Errorf("punt/memory: unsupported group start %q", start)
	}
	s.groups[groupName] = g
	b.db.touch(stream)
	return nil
}

// Range returns up to count records from the head of stream.
func (b *Broker) Range(_ context.Context, stream string, count int64) ([]broker.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	s, ok := b.db.streams[stream]
	if !ok {
		return nil, nil
	}
	n := len(s.entries)
	if count > 0 && int(count) < n {
		n = int(count)
	}
	out := make([]broker.Record, 0, n)
	for _, e := range s.entries[:n] {
		out = append(out, copyRecord(e))
	}
	return out, nil
}

// Len returns the number of records in stream.
func (b *Broker) Len(_ context.Context, stream string) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	s, ok := b.db.streams[stream]
	if !ok {
		return 0, nil
	}
	return int64(len(s.entries)), nil
}

// Pending returns the ids delivered to consumer and not yet acknowledged.
func (b *Broker) Pending(stream, group, consumer string) []string {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	s, ok := b.db.streams[stream]
	if !ok {
		return nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	return append([]string(nil), g.pending[consumer]...)
}

// ──────────────────────────────────────────────────
// Sorted sets
// ──────────────────────────────────────────────────

// Schedule adds member to set with score.
func (b *Broker) Schedule(_ context.Context, set string, score float64, member string) error {
	if err := b.check(); err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	z, ok := b.db.sets[set]
	if !ok {
		z = make(map[string]float64)
		b.db.sets[set] = z
	}
	z[member] = score
	b.db.touch(set)
	return nil
}

// RangeByScore returns up to limit members with score <= maxScore.
func (b *Broker) RangeByScore(_ context.Context, set string, maxScore int64, limit int64) ([]broker.Member, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	return b.db.rangeByScore(set, maxScore, limit), nil
}

// Remove deletes member from set.
func (b *Broker) Remove(_ context.Context, set, member string) error {
	if err := b.check(); err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	b.db.remove(set, member)
	return nil
}

// SetSize returns the number of members in set.
func (b *Broker) SetSize(_ context.Context, set string) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	return int64(len(b.db.sets[set])), nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// Watch snapshots the version of every key and runs fn. A Commit inside
// fn fails with broker.ErrTxAborted if any of those keys was written in
// the meantime.
func (b *Broker) Watch(_ context.Context, fn func(broker.Tx) error, keys ...string) error {
	if err := b.check(); err != nil {
		return err
	}
	b.db.mu.Lock()
	watched := make(map[string]uint64, len(keys))
	for _, k := range keys {
		watched[k] = b.db.versions[k]
	}
	b.db.mu.Unlock()

	return fn(&tx{b: b, watched: watched})
}

type tx struct {
	b       *Broker
	watched map[string]uint64
}

func (t *tx) RangeByScore(ctx context.Context, set string, maxScore int64, limit int64) ([]broker.Member, error) {
	return t.b.RangeByScore(ctx, set, maxScore, limit)
}

func (t *tx) Commit(_ context.Context, ops ...broker.Op) error {
	if err := t.b.check(); err != nil {
		return err
	}
	d := t.b.db
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range t.watched {
		if d.versions[k] != v {
			t.watched = nil
			return broker.ErrTxAborted
		}
	}
	t.watched = nil

	for _, op := range ops {
		switch op.(type) {
		case broker.AppendOp, broker.RemoveOp:
		default:
			return fmt.Errorf("punt/memory: unsupported op %T", op)
		}
	}
	for _, op := range ops {
		switch o := op.(type) {
		case broker.AppendOp:
			d.append(o.Stream, o.Values)
		case broker.RemoveOp:
			d.remove(o.Set, o.Member)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping reports whether the session is still open.
func (b *Broker) Ping(_ context.Context) error { return b.check() }

// Close closes this session. Data stays available to other sessions.
func (b *Broker) Close() error {
	b.closed.Store(true)
	return nil
}

// ──────────────────────────────────────────────────
// Internals (callers hold db.mu)
// ──────────────────────────────────────────────────

func (d *db) touch(key string) { d.versions[key]++ }

func (d *db) stream(key string) *stream {
	s, ok := d.streams[key]
	if !ok {
		s = &stream{index: make(map[string]int), groups: make(map[string]*group)}
		d.streams[key] = s
	}
	return s
}

func (d *db) append(key string, values map[string]any) string {
	s := d.stream(key)

	ms := time.Now().UnixMilli()
	if ms > s.lastMs {
		s.lastMs, s.lastSeq = ms, 0
	} else {
		s.lastSeq++
	}
	id := strconv.FormatInt(s.lastMs, 10) + "-" + strconv.FormatInt(s.lastSeq, 10)

	rec := broker.Record{ID: id, Values: make(map[string]string, len(values))}
	for k, v := range values {
		if str, ok := v.(string); ok {
			rec.Values[k] = str
		} else {
			rec.Values[k] = fmt.Sprint(v)
		}
	}
	s.index[id] = len(s.entries)
	s.entries = append(s.entries, rec)
	d.touch(key)

	close(d.notify)
	d.notify = make(chan struct{})
	return id
}

func (d *db) readGroup(args broker.ReadArgs) (*broker.Record, error) {
	s, ok := d.streams[args.Stream]
	if !ok {
		return nil, fmt.Errorf("punt/memory: NOGROUP no such key %q", args.Stream)
	}
	g, ok := s.groups[args.Group]
	if !ok {
		return nil, fmt.Errorf("punt/memory: NOGROUP no such group %q for key %q", args.Group, args.Stream)
	}

	switch args.Start {
	case broker.StartNew:
		if g.next >= len(s.entries) {
			return nil, nil
		}
		rec := copyRecord(s.entries[g.next])
		g.next++
		g.pending[args.Consumer] = append(g.pending[args.Consumer], rec.ID)
		d.touch(args.Stream)
		return &rec, nil
	case broker.StartPending, "0-0":
		ids := g.pending[args.Consumer]
		if len(ids) == 0 {
			return nil, nil
		}
		rec := copyRecord(s.entries[s.index[ids[0]]])
		return &rec, nil
	default:
		return nil, fmt.Errorf("punt/memory: unsupported read start %q", args.Start)
	}
}

func (d *db) rangeByScore(set string, maxScore int64, limit int64) []broker.Member {
	z := d.sets[set]
	out := make([]broker.Member, 0, len(z))
	for m, score := range z {
		if score <= float64(maxScore) {
			out = append(out, broker.Member{Member: m, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out
}

func (d *db) remove(set, member string) {
	z, ok := d.sets[set]
	if !ok {
		return
	}
	if _, ok := z[member]; !ok {
		return
	}
	delete(z, member)
	d.touch(set)
}

func copyRecord(r broker.Record) broker.Record {
	out := broker.Record{ID: r.ID, Values: make(map[string]string, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}
