// Package punt provides a Redis-backed background job engine for Go.
// Producers append named jobs to a stream; workers read them through a
// consumer group, dispatch them to registered handlers, and retry failures
// with exponential backoff until they succeed or land in a dead letter
// stream.
//
// # Quick Start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	retryClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	eng, err := engine.Build(punt.DefaultConfig(),
//	    redisbroker.New(client),
//	    redisbroker.New(retryClient),
//	)
//
//	eng.Register("sayHello", func(ctx context.Context, data json.RawMessage) error {
//	    return nil
//	})
//	eng.Enqueue(ctx, "sayHello", map[string]string{"name": "Punt"})
//
// # Architecture
//
// The engine is split into small packages that mirror the life of a
// message: producer appends it, worker reads and dispatches it, retry
// promotes failed attempts back onto the stream when they fall due, and
// dlq keeps the ones that ran out of attempts. Every transition writes a
// new record before the old one is acknowledged, so a crash at any point
// leaves the original entry pending and it is redelivered on the next
// start.
//
// All Redis keys live under the "__punt__" namespace so that workers and
// producers written in other languages can share the same streams.
package punt
