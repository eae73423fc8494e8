// Package engine wires the punt subsystems together and provides the
// application-level API for registering handlers, enqueuing jobs and
// running a worker.
//
// The engine sits above every subsystem package and below the
// application layer. It needs two broker sessions: one for the dispatch
// loop, whose live reads block, and one for the retry scheduler, whose
// watch must not be held up behind them.
//
// # Building an Engine
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	dispatch := puntredis.New(client)
//	retries := puntredis.New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//
//	eng, err := engine.Build(punt.DefaultConfig(), dispatch, retries,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering Handlers
//
//	eng.Register("sayHello", func(ctx context.Context, data json.RawMessage) error {
//	    ...
//	})
//
//	// Typed definitions
//	engine.Register(eng, SendEmail)
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, "sendEmail", EmailInput{To: "user@example.com"})
//
// # Running
//
//	if err := eng.StartUp(ctx); err != nil { ... }
//	err := eng.Run(ctx) // returns when ctx is cancelled or on a fatal error
//	eng.Close()
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware after the built-in ones
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
//   - [WithLogger]: set the logger
package engine
