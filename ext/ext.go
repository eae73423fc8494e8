package ext

import (
	"context"
	"time"

	"github.com/xraph/punt/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a message is appended to a topic stream.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, deliveryID string, m job.Message) error
}

// JobStarted is called when the dispatch loop begins executing a delivery.
type JobStarted interface {
	OnJobStarted(ctx context.Context, d *job.Delivery) error
}

// JobCompleted is called after a handler succeeds.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, d *job.Delivery, elapsed time.Duration) error
}

// JobRetrying is called when a failed message is placed in the retry set.
// next is the snapshot that will be redelivered at dueAt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, d *job.Delivery, next job.Message, dueAt time.Time) error
}

// JobDeadLettered is called when a message is appended to the dead letter
// stream.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, m job.Message) error
}

// RetryPromoted is called when the retry scheduler moves a due message
// back onto the topic stream.
type RetryPromoted interface {
	OnRetryPromoted(ctx context.Context, m job.Message) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
