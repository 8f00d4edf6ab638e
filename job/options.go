package job

import (
	"time"

	"github.com/xraph/tempo/backoff"
)

// Options configures a job at enqueue time.
type Options struct {
	// Queue is the priority queue the job is pushed to.
	Queue string

	// Retry is the job's retry policy.
	Retry RetryPolicy

	// RunAt delays the job until the given time. Zero means immediately.
	RunAt time.Time

	// CacheTTL, when positive, runs the job through the result cache.
	CacheTTL time.Duration

	// Timeout bounds a single execution. Zero means no limit.
	Timeout time.Duration

	// Schedule names the schedule entry that fired the job.
	Schedule string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue: "default",
		Retry: DefaultRetryPolicy(),
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.Retry.MaxRetries = n }
}

// WithBackoff sets the exponential backoff parameters.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(o *Options) { o.Retry.Backoff = backoff.NewExponential(base, maxDelay) }
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) { o.Retry = p }
}

// WithRunAt schedules the job for a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithDelay schedules the job d from now.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.RunAt = time.Now().Add(d) }
}

// WithCacheTTL runs the job through the result cache with the given TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Options) { o.CacheTTL = ttl }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithSchedule records the schedule entry that produced the job.
func WithSchedule(name string) Option {
	return func(o *Options) { o.Schedule = name }
}
