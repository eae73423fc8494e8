package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/punt/job"
)

// Logging returns middleware that logs job start and completion.
// Start lines are logged at debug level; a busy worker would otherwise
// log every message twice.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *job.Delivery, next Handler) error {
		logger.Debug("job started",
			slog.String("job_name", d.Job),
			slog.String("delivery_id", d.ID),
			slog.Int("retry_count", d.Message.RetryCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job failed",
				slog.String("job_name", d.Job),
				slog.String("delivery_id", d.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_name", d.Job),
				slog.String("delivery_id", d.ID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
