package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/punt/ext"
	"github.com/xraph/punt/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered = (*MetricsExtension)(nil)
	_ ext.RetryPromoted   = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/punt/observability"

// MetricsExtension records system-wide lifecycle counters. Every counter
// carries a job_name attribute.
type MetricsExtension struct {
	JobEnqueued     metric.Int64Counter
	JobCompleted    metric.Int64Counter
	JobRetried      metric.Int64Counter
	JobDeadLettered metric.Int64Counter
	RetryPromoted   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:     counter("punt.job.enqueued", "Messages appended by producers"),
		JobCompleted:    counter("punt.job.completed", "Messages handled successfully"),
		JobRetried:      counter("punt.job.retried", "Failed messages placed in the retry set"),
		JobDeadLettered: counter("punt.job.deadlettered", "Messages moved to the dead letter stream"),
		RetryPromoted:   counter("punt.retry.promoted", "Due retries moved back onto the stream"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, _ string, msg job.Message) error {
	m.JobEnqueued.Add(ctx, 1, jobAttr(msg.Job))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, d *job.Delivery, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttr(d.Job))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, d *job.Delivery, _ job.Message, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttr(d.Job))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, msg job.Message) error {
	m.JobDeadLettered.Add(ctx, 1, jobAttr(msg.Job))
	return nil
}

// OnRetryPromoted implements ext.RetryPromoted.
func (m *MetricsExtension) OnRetryPromoted(ctx context.Context, msg job.Message) error {
	m.RetryPromoted.Add(ctx, 1, jobAttr(msg.Job))
	return nil
}

func jobAttr(name string) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_name", name))
}
