package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/id"
	"github.com/xraph/punt/job"
)

// Mode selects where Listen reads from.
type Mode int

const (
	// ModeLive waits for a record never delivered to the group.
	ModeLive Mode = iota
	// ModeRecovery replays this consumer's unacknowledged records without
	// waiting.
	ModeRecovery
)

func (m Mode) String() string {
	if m == ModeRecovery {
		return "recovery"
	}
	return "live"
}

// Option configures a Worker.
type Option func(*Worker)

// WithTopic sets the topic to consume. Defaults to punt.DefaultTopic.
func WithTopic(topic string) Option {
	return func(w *Worker) { w.stream = punt.StreamKey(topic) }
}

// WithGroup sets the consumer group. Defaults to punt.DefaultGroup.
func WithGroup(group string) Option {
	return func(w *Worker) { w.group = group }
}

// WithConsumer sets the consumer name. It must be the same across restarts
// for crash recovery to find this worker's pending records.
func WithConsumer(name string) Option {
	return func(w *Worker) { w.consumer = name }
}

// WithBlockTimeout bounds each live read.
func WithBlockTimeout(d time.Duration) Option {
	return func(w *Worker) { w.block = d }
}

// WithRateLimit throttles live reads to r per second with the given burst.
// A non-positive r disables throttling.
func WithRateLimit(r float64, burst int) Option {
	return func(w *Worker) {
		if r <= 0 {
			w.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithVerbose logs every read at debug level.
func WithVerbose(v bool) Option {
	return func(w *Worker) { w.verbose = v }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Worker reads one delivery at a time from a consumer group and executes
// it. Handler calls are serialized within a worker.
type Worker struct {
	session  broker.Session
	executor *Executor
	stream   string
	group    string
	consumer string
	block    time.Duration
	limiter  *rate.Limiter
	verbose  bool
	runID    id.RunID
	logger   *slog.Logger
}

// New creates a worker reading from session.
func New(session broker.Session, executor *Executor, opts ...Option) *Worker {
	w := &Worker{
		session:  session,
		executor: executor,
		stream:   punt.StreamKey(punt.DefaultTopic),
		group:    punt.DefaultGroup,
		consumer: punt.DefaultConsumer,
		block:    5 * time.Second,
		runID:    id.NewRunID(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("run_id", w.runID.String()))
	return w
}

// RunID identifies this worker process in logs.
func (w *Worker) RunID() id.RunID { return w.runID }

// Stream returns the stream key being consumed.
func (w *Worker) Stream() string { return w.stream }

// Consumer returns the consumer name.
func (w *Worker) Consumer() string { return w.consumer }

// StartUp creates the consumer group if it does not exist yet, then
// drains this consumer's pending records. Calling it again is harmless.
//
// Like Run, it observes ctx only between records: the record in flight is
// finished and acknowledged, and whatever is still pending when ctx ends
// is left for the next start.
func (w *Worker) StartUp(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	err := w.session.EnsureGroup(work, w.stream, w.group, broker.StartLatest)
	if err != nil && !errors.Is(err, broker.ErrGroupExists) {
		return fmt.Errorf("ensure group %q on %q: %w", w.group, w.stream, err)
	}

	recovered := 0
	for ctx.Err() == nil {
		deliveryID, err := w.Listen(work, ModeRecovery)
		if err != nil {
			return err
		}
		if deliveryID == "" {
			break
		}
		recovered++
	}

	w.logger.Info("worker recovered pending deliveries",
		slog.String("stream", w.stream),
		slog.String("group", w.group),
		slog.String("consumer", w.consumer),
		slog.Int("recovered", recovered),
		slog.Bool("interrupted", ctx.Err() != nil),
	)
	return nil
}

// Listen reads and processes at most one record. It returns the record id,
// or "" if nothing was available. The record is acknowledged once its
// handler succeeded or its successor was durably written to the retry set
// or the dead letter stream; on any returned error it stays pending.
func (w *Worker) Listen(ctx context.Context, mode Mode) (string, error) {
	args := broker.ReadArgs{
		Stream:   w.stream,
		Group:    w.group,
		Consumer: w.consumer,
		Start:    broker.StartNew,
		Block:    w.block,
	}
	if mode == ModeRecovery {
		args.Start = broker.StartPending
		args.Block = -1
	}

	rec, err := w.session.ReadGroup(ctx, args)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", mode, err)
	}
	if rec == nil {
		if w.verbose {
			w.logger.Debug("no delivery", slog.String("mode", mode.String()))
		}
		return "", nil
	}

	d, err := w.delivery(rec)
	if err != nil {
		return "", err
	}
	if w.verbose {
		w.logger.Debug("delivery received",
			slog.String("mode", mode.String()),
			slog.String("delivery_id", d.ID),
			slog.String("job_name", d.Job),
			slog.Int("retry_count", d.Message.RetryCount),
		)
	}

	outcome, err := w.executor.Execute(ctx, d)
	if err != nil {
		return "", err
	}

	if err := w.session.Ack(ctx, w.stream, w.group, rec.ID); err != nil {
		return "", fmt.Errorf("ack %s: %w", rec.ID, err)
	}
	if w.verbose {
		w.logger.Debug("delivery acknowledged",
			slog.String("delivery_id", d.ID),
			slog.String("outcome", outcome.String()),
		)
	}
	return rec.ID, nil
}

// Run listens in live mode until ctx is done or a fatal error occurs. ctx
// is only checked between deliveries: reads and handlers in flight run to
// completion.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker listening",
		slog.String("stream", w.stream),
		slog.String("group", w.group),
		slog.String("consumer", w.consumer),
	)

	work := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("throttle: %w", err)
			}
		}
		if _, err := w.Listen(work, ModeLive); err != nil {
			w.logger.Error("worker stopped on error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (w *Worker) delivery(rec *broker.Record) (*job.Delivery, error) {
	raw, ok := rec.Field(punt.FieldMessage)
	if !ok {
		return nil, fmt.Errorf("record %s: %w", rec.ID, punt.ErrEmptyMessage)
	}
	m, err := job.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}

	name, ok := rec.Field(punt.FieldJob)
	if !ok || name == "" {
		name = m.Job
	}
	return &job.Delivery{
		ID:      rec.ID,
		Stream:  w.stream,
		Job:     name,
		Message: m,
	}, nil
}
