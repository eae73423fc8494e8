package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Feed)(nil)
	_ ext.JobEnqueued     = (*Feed)(nil)
	_ ext.JobStarted      = (*Feed)(nil)
	_ ext.JobCompleted    = (*Feed)(nil)
	_ ext.JobRetrying     = (*Feed)(nil)
	_ ext.JobDeadLettered = (*Feed)(nil)
	_ ext.RetryPromoted   = (*Feed)(nil)
	_ ext.Shutdown        = (*Feed)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Feed receives lifecycle events as an engine extension and publishes
// them to subscribers by topic.
type Feed struct {
	topics *topicSet
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	published atomic.Int64
	dropped   atomic.Int64

	bufferSize int
}

// Option configures a Feed.
type Option func(*Feed)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) Option {
	return func(f *Feed) {
		if size > 0 {
			f.bufferSize = size
		}
	}
}

// WithClock sets the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// NewFeed creates an empty feed.
func NewFeed(logger *slog.Logger, opts ...Option) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed{
		topics:      newTopicSet(),
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements ext.Extension.
func (f *Feed) Name() string { return "event-feed" }

// Subscribe registers a subscriber on topics. Reusing an id replaces the
// previous subscriber, which is closed.
func (f *Feed) Subscribe(subscriberID string, topics ...string) *Subscriber {
	f.Unsubscribe(subscriberID)

	sub := newSubscriber(subscriberID, f.bufferSize)
	f.mu.Lock()
	f.subscribers[subscriberID] = sub
	f.mu.Unlock()
	for _, topic := range topics {
		f.topics.add(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from every topic and closes it.
func (f *Feed) Unsubscribe(subscriberID string) {
	f.topics.removeAll(subscriberID)

	f.mu.Lock()
	sub, ok := f.subscribers[subscriberID]
	delete(f.subscribers, subscriberID)
	f.mu.Unlock()

	if ok {
		f.dropped.Add(sub.Dropped())
		sub.close()
	}
}

// Stats reports feed counters.
type Stats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns a snapshot of the feed counters.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	n := len(f.subscribers)
	dropped := f.dropped.Load()
	for _, sub := range f.subscribers {
		dropped += sub.Dropped()
	}
	f.mu.Unlock()

	return Stats{
		Topics:      f.topics.count(),
		Subscribers: n,
		Published:   f.published.Load(),
		Dropped:     dropped,
	}
}

func (f *Feed) publish(typ EventType, data JobEventData) {
	raw, err := json.Marshal(data)
	if err != nil {
		f.logger.Warn("feed: marshal event", slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	evt := &Event{
		Type:      typ,
		Timestamp: f.now().UTC(),
		Topic:     JobTopic(data.Job),
		Data:      raw,
	}
	f.published.Add(int64(f.topics.broadcast(resolveTopics(evt), evt)))
}

func deliveryData(d *job.Delivery) JobEventData {
	return JobEventData{
		DeliveryID: d.ID,
		Job:        d.Job,
		RetryCount: d.Message.RetryCount,
	}
}

func (f *Feed) OnJobEnqueued(_ context.Context, deliveryID string, m job.Message) error {
	f.publish(EventJobEnqueued, JobEventData{DeliveryID: deliveryID, Job: m.Job, RetryCount: m.RetryCount})
	return nil
}

func (f *Feed) OnJobStarted(_ context.Context, d *job.Delivery) error {
	f.publish(EventJobStarted, deliveryData(d))
	return nil
}

func (f *Feed) OnJobCompleted(_ context.Context, d *job.Delivery, elapsed time.Duration) error {
	data := deliveryData(d)
	data.ElapsedMs = elapsed.Milliseconds()
	f.publish(EventJobCompleted, data)
	return nil
}

func (f *Feed) OnJobRetrying(_ context.Context, d *job.Delivery, next job.Message, dueAt time.Time) error {
	data := deliveryData(d)
	data.RetryCount = next.RetryCount
	if next.LastError != nil {
		data.Error = *next.LastError
	}
	data.DueAt = dueAt.UnixMilli()
	f.publish(EventJobRetrying, data)
	return nil
}

func (f *Feed) OnJobDeadLettered(_ context.Context, m job.Message) error {
	data := JobEventData{Job: m.Job, RetryCount: m.RetryCount}
	if m.LastError != nil {
		data.Error = *m.LastError
	}
	f.publish(EventJobDeadLettered, data)
	return nil
}

func (f *Feed) OnRetryPromoted(_ context.Context, m job.Message) error {
	f.publish(EventRetryPromoted, JobEventData{Job: m.Job, RetryCount: m.RetryCount})
	return nil
}

// OnShutdown closes every subscriber.
func (f *Feed) OnShutdown(_ context.Context) error {
	f.mu.Lock()
	ids := make([]string, 0, len(f.subscribers))
	for id := range f.subscribers {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.Unsubscribe(id)
	}
	f.logger.Debug("event feed shut down", slog.Int("subscribers", len(ids)))
	return nil
}
