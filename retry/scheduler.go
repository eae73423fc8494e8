package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/xraph/punt"
	"github.com/xraph/punt/broker"
	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
)

// Result describes what a single tick did.
type Result int

const (
	// ResultIdle means no entry was due.
	ResultIdle Result = iota
	// ResultPromoted means one entry moved to the stream.
	ResultPromoted
	// ResultConflict means the retry set changed under the watch and
	// nothing was committed.
	ResultConflict
	// ResultMalformed means a broken entry was moved to the dead letter
	// stream.
	ResultMalformed
)

func (r Result) String() string {
	switch r {
	case ResultIdle:
		return "idle"
	case ResultPromoted:
		return "promoted"
	case ResultConflict:
		return "conflict"
	case ResultMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTopic sets the topic promoted messages are appended to. The retry
// set itself is not per topic: a scheduler promotes every due entry onto
// its own topic, so deployments sharing a broker must share one topic.
func WithTopic(topic string) Option {
	return func(s *Scheduler) { s.stream = punt.StreamKey(topic) }
}

// WithInterval sets how often Start and Run tick.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithExtensions sets the registry notified of promotions.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Scheduler) { s.extensions = r }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the clock used by the tick loop.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler moves due entries from the retry set onto the topic stream.
type Scheduler struct {
	session    broker.Session
	stream     string
	interval   time.Duration
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler over session. The session should not be shared
// with the dispatch loop: a blocking read would hold up the watch.
func New(session broker.Session, opts ...Option) *Scheduler {
	s := &Scheduler{
		session:  session,
		stream:   punt.StreamKey(punt.DefaultTopic),
		interval: time.Second,
		logger:   slog.Default(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extensions == nil {
		s.extensions = ext.NewRegistry(s.logger)
	}
	return s
}

// Stream returns the stream key promoted entries are appended to.
func (s *Scheduler) Stream() string { return s.stream }

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Tick promotes at most one entry due at or before now.
//
// A conflicting commit is reported as ResultConflict with a nil error. A
// malformed entry is dead-lettered unchanged and reported as
// ResultMalformed with an error wrapping punt.ErrMalformedEntry. Any other
// error comes from the broker and nothing was committed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Result, error) {
	var (
		result   Result
		entry    broker.Member
		promoted job.Message
	)

	err := s.session.Watch(ctx, func(tx broker.Tx) error {
		result = ResultIdle

		due, err := tx.RangeByScore(ctx, punt.RetrySetKey, now.UnixMilli(), 1)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		entry = due[0]
		remove := broker.RemoveOp{Set: punt.RetrySetKey, Member: entry.Member}

		m, ok := decodeEntry(entry)
		if !ok {
			result = ResultMalformed
			return tx.Commit(ctx, remove, broker.AppendOp{
				Stream: punt.DeadLetterKey,
				Values: map[string]any{
					punt.FieldJob:     "",
					punt.FieldMessage: entry.Member,
				},
			})
		}

		result = ResultPromoted
		promoted = m
		return tx.Commit(ctx, broker.AppendOp{
			Stream: s.stream,
			Values: map[string]any{
				punt.FieldJob:     m.Job,
				punt.FieldMessage: entry.Member,
			},
		}, remove)
	}, punt.RetrySetKey)

	switch {
	case errors.Is(err, broker.ErrTxAborted):
		s.logger.Debug("retry promotion lost a race, will try again",
			slog.String("stream", s.stream),
		)
		return ResultConflict, nil
	case err != nil:
		return ResultIdle, fmt.Errorf("promote retry: %w", err)
	}

	switch result {
	case ResultMalformed:
		s.logger.Error("malformed retry entry moved to dead letter stream",
			slog.String("member", entry.Member),
			slog.Float64("score", entry.Score),
		)
		return result, fmt.Errorf("%w: %q", punt.ErrMalformedEntry, entry.Member)
	case ResultPromoted:
		s.extensions.EmitRetryPromoted(ctx, promoted)
		s.logger.Debug("retry promoted",
			slog.String("job_name", promoted.Job),
			slog.Int("retry_count", promoted.RetryCount),
			slog.String("stream", s.stream),
		)
	}
	return result, nil
}

// decodeEntry validates a retry set member. The score must be a whole
// number of milliseconds and the member a message naming a job.
func decodeEntry(e broker.Member) (job.Message, bool) {
	if math.IsNaN(e.Score) || math.IsInf(e.Score, 0) || e.Score != math.Trunc(e.Score) {
		return job.Message{}, false
	}
	m, err := job.Decode(e.Member)
	if err != nil || m.Job == "" {
		return job.Message{}, false
	}
	return m, true
}

// Run ticks every interval until ctx is done or Stop is called. Tick
// errors are logged and never end the loop. A tick in flight when ctx is
// cancelled runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.tick(work)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.Tick(ctx, s.now()); err != nil && !errors.Is(err, punt.ErrMalformedEntry) {
		s.logger.Warn("retry tick failed", slog.String("error", err.Error()))
	}
}

// Start runs the tick loop in the background until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(ctx)
	}()
	s.logger.Info("retry scheduler started",
		slog.String("stream", s.stream),
		slog.Duration("interval", s.interval),
	)
}

// Stop ends the tick loop and waits for the current tick to finish. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("retry scheduler stopped")
}
