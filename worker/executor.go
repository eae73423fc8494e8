// Package worker provides the dispatch side of punt: an Executor that runs
// a delivery through middleware and its handler and records failures, and
// a Worker that reads deliveries from a consumer group, hands them to the
// Executor, and acknowledges them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/punt"
	"github.com/xraph/punt/backoff"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/dlq"
	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
	"github.com/xraph/punt/middleware"
)

// Outcome is what became of a delivery once the executor was done with it.
type Outcome int

const (
	// OutcomeCompleted means the handler succeeded.
	OutcomeCompleted Outcome = iota
	// OutcomeRetrying means the message now waits in the retry set.
	OutcomeRetrying
	// OutcomeDeadLettered means the message was appended to the dead
	// letter stream.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetrying:
		return "retrying"
	case OutcomeDeadLettered:
		return "deadlettered"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware appends middleware to the executor's chain.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mws = append(e.mws, mws...) }
}

// WithClock sets the clock used to stamp failed attempts.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// Executor runs a single delivery through middleware and the registered
// handler. On failure it writes the successor message to the retry set or
// the dead letter stream.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	session    broker.Session
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mws        []middleware.Middleware
	mw         middleware.Middleware
	now        func() time.Time
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. session is
// used to write the retry set and should be the dispatch loop's session.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	session broker.Session,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		session:    session,
		dlqService: dlqService,
		backoff:    bo,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.backoff == nil {
		e.backoff = backoff.DefaultStrategy()
	}
	if e.dlqService == nil {
		e.dlqService = dlq.NewService(session)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(logger)
	}
	e.mw = middleware.Chain(e.mws...)
	return e
}

// Execute runs d through the middleware chain and its handler. Handler
// errors never escape: they are recorded by Fail. The returned error is
// either punt.ErrUnknownHandler or a broker failure while recording the
// outcome, and in both cases the delivery must not be acknowledged.
func (e *Executor) Execute(ctx context.Context, d *job.Delivery) (Outcome, error) {
	reg, ok := e.registry.Get(d.Job)
	if !ok {
		return OutcomeCompleted, fmt.Errorf("%w: %q", punt.ErrUnknownHandler, d.Job)
	}

	e.extensions.EmitJobStarted(ctx, d)

	ctx = job.WithDelivery(ctx, d)
	terminal := func(ctx context.Context) error {
		return reg.Handler(ctx, d.Message.Data)
	}

	start := time.Now()
	err := e.mw(ctx, d, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.Fail(ctx, d, err, reg.MaxRetries, time.Time{})
	}

	e.extensions.EmitJobCompleted(ctx, d, elapsed)
	return OutcomeCompleted, nil
}

// Fail records a failed attempt at d. The successor message has its retry
// count incremented and carries the attempt time and error. Once the
// count reaches maxRetries the successor is dead-lettered; otherwise it is
// placed in the retry set, due after the backoff delay. A zero at means
// now.
func (e *Executor) Fail(ctx context.Context, d *job.Delivery, handlerErr error, maxRetries int, at time.Time) (Outcome, error) {
	if at.IsZero() {
		at = e.now()
	}
	next := d.Message.Failed(handlerErr, at)

	if next.RetryCount >= maxRetries {
		return e.deadLetter(ctx, d, next)
	}
	return e.scheduleRetry(ctx, d, next, at)
}

func (e *Executor) scheduleRetry(ctx context.Context, d *job.Delivery, next job.Message, at time.Time) (Outcome, error) {
	delay := e.backoff.Delay(next.RetryCount)
	due := at.Add(delay)

	encoded, err := next.Encode()
	if err != nil {
		return OutcomeRetrying, err
	}
	if err := e.session.Schedule(ctx, punt.RetrySetKey, float64(due.UnixMilli()), encoded); err != nil {
		e.logger.Error("failed to schedule retry",
			slog.String("job_name", d.Job),
			slog.String("delivery_id", d.ID),
			slog.String("error", err.Error()),
		)
		return OutcomeRetrying, fmt.Errorf("schedule retry for %q: %w", d.Job, err)
	}

	e.extensions.EmitJobRetrying(ctx, d, next, due)

	e.logger.Info("job scheduled for retry",
		slog.String("job_name", d.Job),
		slog.String("delivery_id", d.ID),
		slog.Int("retry_count", next.RetryCount),
		slog.Duration("delay", delay),
		slog.Time("due_at", due),
	)
	return OutcomeRetrying, nil
}

func (e *Executor) deadLetter(ctx context.Context, d *job.Delivery, next job.Message) (Outcome, error) {
	if _, err := e.dlqService.PushAs(ctx, d.Job, next); err != nil {
		e.logger.Error("failed to dead-letter job",
			slog.String("job_name", d.Job),
			slog.String("delivery_id", d.ID),
			slog.String("error", err.Error()),
		)
		return OutcomeDeadLettered, err
	}

	e.extensions.EmitJobDeadLettered(ctx, next)

	lastErr := ""
	if next.LastError != nil {
		lastErr = *next.LastError
	}
	e.logger.Warn("job dead-lettered after exhausting retries",
		slog.String("job_name", d.Job),
		slog.String("delivery_id", d.ID),
		slog.Int("retry_count", next.RetryCount),
		slog.String("error", lastErr),
	)
	return OutcomeDeadLettered, nil
}
