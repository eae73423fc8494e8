// Package redis implements broker.Session on Redis streams and sorted sets.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	b := redisbroker.New(client)
//	if err := b.Ping(ctx); err != nil { ... }
//
// The broker owns the client: Close closes it. Give the dispatch loop and
// the retry scheduler separate clients so a blocking read never holds up a
// promotion.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/punt/broker"
)

// Compile-time interface checks.
var (
	_ broker.Session = (*Broker)(nil)
	_ broker.Tx      = (*tx)(nil)
)

// Option configures the Broker.
type Option func(*Broker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker implements broker.Session backed by Redis.
type Broker struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a Redis-backed broker session.
func New(client goredis.UniversalClient, opts ...Option) *Broker {
	b := &Broker{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Client returns the underlying Redis client.
func (b *Broker) Client() goredis.UniversalClient { return b.client }

// Append adds a record with XADD and returns the assigned id.
func (b *Broker) Append(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := b.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("punt/redis: append: %w", err)
	}
	return id, nil
}

// ReadGroup reads one record with XREADGROUP COUNT 1.
func (b *Broker) ReadGroup(ctx context.Context, args broker.ReadArgs) (*broker.Record, error) {
	streams, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, args.Start},
		Count:    1,
		Block:    args.Block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("punt/redis: read group: %w", err)
	}

	for _, s := range streams {
		if len(s.Messages) == 0 {
			continue
		}
		rec := toRecord(s.Messages[0])
		return &rec, nil
	}
	return nil, nil
}

// Ack acknowledges a record with XACK.
func (b *Broker) Ack(ctx context.Context, stream, group, id string) error {
	if err := b.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("punt/redis: ack: %w", err)
	}
	return nil
}

// EnsureGroup runs XGROUP CREATE ... MKSTREAM.
func (b *Broker) EnsureGroup(ctx context.Context, stream, group, start string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return broker.ErrGroupExists
	}
	return fmt.Errorf("punt/redis: create group: %w", err)
}

// Schedule adds a sorted set member with ZADD.
func (b *Broker) Schedule(ctx context.Context, set string, score float64, member string) error {
	if err := b.client.ZAdd(ctx, set, goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("punt/redis: schedule: %w", err)
	}
	return nil
}

// RangeByScore runs ZRANGEBYSCORE set -inf maxScore WITHSCORES.
func (b *Broker) RangeByScore(ctx context.Context, set string, maxScore int64, limit int64) ([]broker.Member, error) {
	members, err := rangeByScore(ctx, b.client, set, maxScore, limit)
	if err != nil {
		return nil, fmt.Errorf("punt/redis: range by score: %w", err)
	}
	return members, nil
}

// Remove deletes a sorted set member with ZREM.
func (b *Broker) Remove(ctx context.Context, set, member string) error {
	if err := b.client.ZRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("punt/redis: remove: %w", err)
	}
	return nil
}

// SetSize returns ZCARD set.
func (b *Broker) SetSize(ctx context.Context, set string) (int64, error) {
	n, err := b.client.ZCard(ctx, set).Result()
	if err != nil {
		return 0, fmt.Errorf("punt/redis: set size: %w", err)
	}
	return n, nil
}

// Range returns the first count records of a stream with XRANGE.
func (b *Broker) Range(ctx context.Context, stream string, count int64) ([]broker.Record, error) {
	var (
		msgs []goredis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = b.client.XRangeN(ctx, stream, "-", "+", count).Result()
	} else {
		msgs, err = b.client.XRange(ctx, stream, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("punt/redis: range: %w", err)
	}

	records := make([]broker.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, toRecord(m))
	}
	return records, nil
}

// Len returns XLEN stream.
func (b *Broker) Len(ctx context.Context, stream string) (int64, error) {
	n, err := b.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("punt/redis: len: %w", err)
	}
	return n, nil
}

// Watch runs fn under WATCH keys. A commit that loses the race surfaces as
// broker.ErrTxAborted.
func (b *Broker) Watch(ctx context.Context, fn func(broker.Tx) error, keys ...string) error {
	err := b.client.Watch(ctx, func(rtx *goredis.Tx) error {
		return fn(&tx{rtx: rtx})
	}, keys...)
	if errors.Is(err, goredis.TxFailedErr) {
		return broker.ErrTxAborted
	}
	return err
}

// Ping verifies the Redis connection is alive.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("punt/redis: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (b *Broker) Close() error {
	return b.client.Close()
}

type tx struct {
	rtx *goredis.Tx
}

func (t *tx) RangeByScore(ctx context.Context, set string, maxScore int64, limit int64) ([]broker.Member, error) {
	members, err := rangeByScore(ctx, t.rtx, set, maxScore, limit)
	if err != nil {
		return nil, fmt.Errorf("punt/redis: tx range by score: %w", err)
	}
	return members, nil
}

func (t *tx) Commit(ctx context.Context, ops ...broker.Op) error {
	_, err := t.rtx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, op := range ops {
			switch o := op.(type) {
			case broker.AppendOp:
				pipe.XAdd(ctx, &goredis.XAddArgs{Stream: o.Stream, Values: o.Values})
			case broker.RemoveOp:
				pipe.ZRem(ctx, o.Set, o.Member)
			default:
				return fmt.Errorf("punt/redis: unsupported op %T", op)
			}
		}
		return nil
	})
	if errors.Is(err, goredis.TxFailedErr) {
		return broker.ErrTxAborted
	}
	if err != nil {
		return fmt.Errorf("punt/redis: commit: %w", err)
	}
	return nil
}

// zRanger is satisfied by both the client and a watched *goredis.Tx.
type zRanger interface {
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *goredis.ZRangeBy) *goredis.ZSliceCmd
}

func rangeByScore(ctx context.Context, c zRanger, set string, maxScore int64, limit int64) ([]broker.Member, error) {
	opt := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(maxScore, 10),
	}
	if limit > 0 {
		opt.Count = limit
	}
	zs, err := c.ZRangeByScoreWithScores(ctx, set, opt).Result()
	if err != nil {
		return nil, err
	}

	members := make([]broker.Member, 0, len(zs))
	for _, z := range zs {
		members = append(members, broker.Member{Member: fmt.Sprint(z.Member), Score: z.Score})
	}
	return members, nil
}

func toRecord(m goredis.XMessage) broker.Record {
	rec := broker.Record{ID: m.ID}
	if m.Values == nil {
		return rec
	}
	rec.Values = make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		switch val := v.(type) {
		case string:
			rec.Values[k] = val
		case nil:
		default:
			rec.Values[k] = fmt.Sprint(val)
		}
	}
	return rec
}
