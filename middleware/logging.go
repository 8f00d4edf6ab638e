package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/tempo/job"
)

// Logging returns middleware that logs each execution at debug level.
// Outcomes that matter operationally (retry, dead) are logged by the worker.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if !logger.Enabled(ctx, slog.LevelDebug) {
			return next(ctx)
		}

		logger.DebugContext(ctx, "job started",
			slog.String("job_kind", j.Kind),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		attrs := []any{
			slog.String("job_kind", j.Kind),
			slog.String("job_id", j.ID.String()),
			slog.Duration("elapsed", elapsed),
		}
		if err != nil {
			logger.DebugContext(ctx, "job errored", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.DebugContext(ctx, "job done", attrs...)
		}
		return err
	}
}
