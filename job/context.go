package job

import "context"

type ctxKey struct{}

// WithContext returns a copy of ctx carrying j.
func WithContext(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the job being executed, if any. Handlers use it to
// read the attempt number or the schedule entry that fired the job.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(ctxKey{}).(*Job)
	return j, ok && j != nil
}
