package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/punt"
	"github.com/xraph/punt/backoff"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/dlq"
	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
	mw "github.com/xraph/punt/middleware"
	"github.com/xraph/punt/observability"
	"github.com/xraph/punt/producer"
	"github.com/xraph/punt/retry"
	"github.com/xraph/punt/worker"
)

const instrumentationName = "github.com/xraph/punt"

// Engine owns the registry, producer, dispatch loop and retry scheduler of
// one punt worker.
type Engine struct {
	cfg          punt.Config
	dispatch     broker.Session
	retrySession broker.Session

	extensions *ext.Registry
	registry   *job.Registry
	producer   *producer.Producer
	dlqService *dlq.Service
	executor   *worker.Executor
	worker     *worker.Worker
	scheduler  *retry.Scheduler

	bo     backoff.Strategy
	mws    []mw.Middleware
	logger *slog.Logger
	now    func() time.Time

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the built-in recover, tracing, metrics and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (2^n seconds) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithClock sets the clock used to stamp failures and to find due
// retries.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// Build creates an Engine. dispatchSession serves the producer and the
// dispatch loop; retrySession serves the retry scheduler. Zero fields of
// cfg take their defaults, except MaxRetries where zero is a valid cap and
// a negative value selects the default.
func Build(cfg punt.Config, dispatchSession, retrySession broker.Session, opts ...Option) (*Engine, error) {
	if dispatchSession == nil || retrySession == nil {
		return nil, punt.ErrNoBroker
	}
	cfg = withDefaults(cfg)

	eng := &Engine{
		cfg:          cfg,
		dispatch:     dispatchSession,
		retrySession: retrySession,
		logger:       slog.Default(),
		now:          time.Now,
	}
	// Extensions need a logger before options run.
	eng.extensions = ext.NewRegistry(nil)
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	eng.extensions.SetLogger(eng.logger)

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.registry = job.NewRegistry(job.WithDefaultMaxRetries(cfg.MaxRetries))
	eng.dlqService = dlq.NewService(dispatchSession)

	tracerProvider := eng.tracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	tracer := tracerProvider.Tracer(instrumentationName)

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := make([]mw.Middleware, 0, 4+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(eng.logger),
		mw.TracingWithTracer(tracer),
		metricsMw,
		mw.Logging(eng.logger),
	)
	allMws = append(allMws, eng.mws...)

	eng.producer = producer.New(dispatchSession,
		producer.WithTopic(cfg.Topic),
		producer.WithExtensions(eng.extensions),
		producer.WithTracer(tracer),
		producer.WithLogger(eng.logger),
	)

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, dispatchSession, eng.dlqService, eng.bo, eng.logger,
		worker.WithMiddleware(allMws...),
		worker.WithClock(eng.now),
	)

	workerOpts := []worker.Option{
		worker.WithTopic(cfg.Topic),
		worker.WithGroup(cfg.Group),
		worker.WithConsumer(cfg.Consumer),
		worker.WithBlockTimeout(cfg.BlockTimeout),
		worker.WithVerbose(cfg.Verbose),
		worker.WithLogger(eng.logger),
	}
	if cfg.RateLimit > 0 {
		workerOpts = append(workerOpts, worker.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	eng.worker = worker.New(dispatchSession, eng.executor, workerOpts...)

	eng.scheduler = retry.New(retrySession,
		retry.WithTopic(cfg.Topic),
		retry.WithInterval(cfg.RetryInterval),
		retry.WithExtensions(eng.extensions),
		retry.WithLogger(eng.logger),
		retry.WithClock(eng.now),
	)

	if cfg.Topic != punt.DefaultTopic {
		eng.logger.Warn("retry set is shared by every topic on this broker; run one topic per broker",
			slog.String("topic", cfg.Topic),
			slog.String("retry_set", punt.RetrySetKey),
		)
	}

	return eng, nil
}

func withDefaults(cfg punt.Config) punt.Config {
	def := punt.DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Consumer == "" {
		cfg.Consumer = def.Consumer
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return cfg
}

// Register binds a typed job definition to the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Register binds fn to name. Handlers must be registered before StartUp.
func (eng *Engine) Register(name string, fn job.HandlerFunc, opts ...job.Option) {
	eng.registry.Register(name, fn, opts...)
}

// Enqueue marshals payload and appends a job to the engine's topic.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T) (string, error) {
	return producer.Enqueue(ctx, eng.producer, name, payload)
}

// EnqueueRaw appends a job with a pre-serialized payload and returns the
// stream record id.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, data json.RawMessage) (string, error) {
	return eng.producer.EnqueueRaw(ctx, name, data)
}

// StartUp creates the consumer group if needed and replays deliveries
// left pending by a previous run of this consumer.
func (eng *Engine) StartUp(ctx context.Context) error {
	if names := eng.registry.Names(); len(names) == 0 {
		eng.logger.Warn("no handlers registered")
	}
	return eng.worker.StartUp(ctx)
}

// Run drives the retry scheduler and the dispatch loop until ctx is
// cancelled or the dispatch loop hits a fatal error, which is returned.
// Work in flight when ctx is cancelled runs to completion.
func (eng *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return eng.worker.Run(gctx)
	})

	err := g.Wait()
	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("punt: run: %w", err)
	}
	return nil
}

// Close stops the retry scheduler and closes both broker sessions.
func (eng *Engine) Close() error {
	eng.closeOnce.Do(func() {
		eng.scheduler.Stop()

		var errs []error
		if err := eng.dispatch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatch session: %w", err))
		}
		if eng.retrySession != eng.dispatch {
			if err := eng.retrySession.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close retry session: %w", err))
			}
		}
		eng.closeErr = errors.Join(errs...)
	})
	return eng.closeErr
}

// PendingRetries returns the number of messages waiting in the retry set.
func (eng *Engine) PendingRetries(ctx context.Context) (int64, error) {
	n, err := eng.retrySession.SetSize(ctx, punt.RetrySetKey)
	if err != nil {
		return 0, fmt.Errorf("count retries: %w", err)
	}
	return n, nil
}

// Ping checks both broker sessions.
func (eng *Engine) Ping(ctx context.Context) error {
	if err := eng.dispatch.Ping(ctx); err != nil {
		return err
	}
	return eng.retrySession.Ping(ctx)
}

// Config returns the effective configuration.
func (eng *Engine) Config() punt.Config { return eng.cfg }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Producer returns the engine's producer.
func (eng *Engine) Producer() *producer.Producer { return eng.producer }

// DLQService returns the dead letter service for inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Worker returns the dispatch loop.
func (eng *Engine) Worker() *worker.Worker { return eng.worker }

// Scheduler returns the retry scheduler.
func (eng *Engine) Scheduler() *retry.Scheduler { return eng.scheduler }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }
