package middleware

import (
	"context"

	"github.com/xraph/tempo/job"
)

// Context returns middleware that attaches the executing job to the
// context, so handlers can read it back with job.FromContext.
func Context() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(job.WithContext(ctx, j))
	}
}
