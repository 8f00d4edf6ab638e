package tempo

import (
	"fmt"
	"time"
)

// Config holds configuration for a tempo process.
type Config struct {
	// Concurrency is the number of worker slots.
	Concurrency int

	// Queues lists the priority queues to consume, highest priority first.
	Queues []string

	// PopTimeout bounds how long a slot blocks waiting for a job.
	PopTimeout time.Duration

	// VisibilityTimeout is how long a popped job may stay unacknowledged
	// before it becomes eligible for requeue.
	VisibilityTimeout time.Duration

	// PromoteInterval is the tick of the scheduled-set promoter and the
	// in-flight reclaimer.
	PromoteInterval time.Duration

	// TickInterval is how often the schedule firer checks for due entries.
	TickInterval time.Duration

	// LeaderTTL is the lifetime of the schedule leadership lock.
	LeaderTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for running jobs on stop.
	ShutdownTimeout time.Duration

	// Location is the time zone cadence expressions are evaluated in.
	Location *time.Location
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"critical", "default", "low"},
		PopTimeout:        2 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
		PromoteInterval:   1 * time.Second,
		TickInterval:      1 * time.Second,
		LeaderTTL:         15 * time.Second,
		ShutdownTimeout:   25 * time.Second,
		Location:          time.UTC,
	}
}

// Validate checks the configuration for values the runtime cannot work with.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return Validationf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if len(c.Queues) == 0 {
		return Validationf("at least one queue is required")
	}
	seen := make(map[string]struct{}, len(c.Queues))
	for _, q := range c.Queues {
		if q == "" {
			return Validationf("queue name must not be empty")
		}
		if _, dup := seen[q]; dup {
			return Validationf("queue %q listed twice", q)
		}
		seen[q] = struct{}{}
	}
	for name, d := range map[string]time.Duration{
		"pop timeout":        c.PopTimeout,
		"visibility timeout": c.VisibilityTimeout,
		"promote interval":   c.PromoteInterval,
		"tick interval":      c.TickInterval,
		"leader ttl":         c.LeaderTTL,
	} {
		if d <= 0 {
			return Validationf("%s must be positive", name)
		}
	}
	if c.TickInterval >= c.LeaderTTL {
		return fmt.Errorf("%w: tick interval %s must be shorter than leader ttl %s",
			ErrValidation, c.TickInterval, c.LeaderTTL)
	}
	return nil
}

// HasQueue reports whether q is one of the configured queues.
func (c Config) HasQueue(q string) bool {
	for _, name := range c.Queues {
		if name == q {
			return true
		}
	}
	return false
}
