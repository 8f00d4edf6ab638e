package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/job"
)

// DefaultVisibilityTimeout is how long a popped job stays invisible before
// it is reclaimed.
const DefaultVisibilityTimeout = 5 * time.Minute

// Outcome is what Fail did with a job.
type Outcome int

const (
	// OutcomeRetry means the job was rescheduled with backoff.
	OutcomeRetry Outcome = iota
	// OutcomeDead means the job exhausted its retries and was moved to the
	// dead set.
	OutcomeDead
)

func (o Outcome) String() string {
	if o == OutcomeDead {
		return "dead"
	}
	return "retry"
}

// Delivery is a popped job together with the broker message it came from.
type Delivery struct {
	Job     *job.Job
	Message *broker.Message
}

// Queue enqueues, pops and settles jobs over a broker.Queue. Queues are
// scanned in the order given at construction, which is their priority.
type Queue struct {
	broker     broker.Queue
	queues     []string
	visibility time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibilityTimeout sets how long a popped job stays in flight before
// Reclaim returns it to its queue.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over b serving the given queues in priority order.
func New(b broker.Queue, queues []string, opts ...Option) *Queue {
	q := &Queue{
		broker:     b,
		queues:     slices.Clone(queues),
		visibility: DefaultVisibilityTimeout,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Names returns the served queues in priority order.
func (q *Queue) Names() []string { return slices.Clone(q.queues) }

// Enqueue validates j and pushes it to its queue, or to the scheduled set
// when j.RunAt is in the future. Invalid descriptors are rejected with
// tempo.ErrValidation and never reach the broker.
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if !slices.Contains(q.queues, j.Queue) {
		return tempo.Validationf("job %q: queue %q is not configured", j.Kind, j.Queue)
	}
	if j.ID.IsNil() {
		return tempo.Validationf("job %q: id is required", j.Kind)
	}

	data, err := j.Encode()
	if err != nil {
		return err
	}
	return q.broker.Push(ctx, j.Queue, j.ID.String(), data, j.RunAt)
}

// Pop waits up to timeout for the next job. It returns tempo.ErrEmpty when
// nothing arrived. A message that cannot be decoded is moved straight to
// the dead set and reported as an error.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	msg, err := q.broker.Pop(ctx, q.queues, timeout, q.visibility)
	if err != nil {
		return nil, err
	}

	j, err := job.Decode(msg.Payload)
	if err != nil {
		if buryErr := q.broker.Bury(ctx, msg.Ref, msg.Payload); buryErr != nil {
			return nil, fmt.Errorf("queue: bury undecodable %s: %w", msg.Ref, errors.Join(err, buryErr))
		}
		q.logger.Warn("undecodable job moved to dead set", slog.String("ref", msg.Ref), slog.String("error", err.Error()))
		return nil, fmt.Errorf("queue: pop %s: %w", msg.Ref, err)
	}
	return &Delivery{Job: j, Message: msg}, nil
}

// Ack removes a finished job.
func (q *Queue) Ack(ctx context.Context, j *job.Job) error {
	return q.broker.Ack(ctx, j.ID.String())
}

// Discard acknowledges a job that must not be retried.
func (q *Queue) Discard(ctx context.Context, j *job.Job) error {
	return q.broker.Ack(ctx, j.ID.String())
}

// Fail records a failed attempt. The retry count is incremented; once it
// exceeds the job's max retries the job moves to the dead set, otherwise it
// is rescheduled after the policy's backoff for the new retry count.
func (q *Queue) Fail(ctx context.Context, j *job.Job, cause error) (Outcome, error) {
	now := q.now().UTC()
	j.RetryCount++
	if cause != nil {
		j.LastError = cause.Error()
	}
	j.FailedAt = &now

	data, err := j.Encode()
	if err != nil {
		return OutcomeRetry, err
	}

	if j.Retry.Exhausted(j.RetryCount) {
		if err := q.broker.Bury(ctx, j.ID.String(), data); err != nil {
			return OutcomeDead, fmt.Errorf("queue: bury %s: %w", j.ID, err)
		}
		return OutcomeDead, nil
	}

	at := now.Add(j.Retry.Delay(j.RetryCount))
	if err := q.broker.Retry(ctx, j.ID.String(), data, at); err != nil {
		return OutcomeRetry, fmt.Errorf("queue: retry %s: %w", j.ID, err)
	}
	return OutcomeRetry, nil
}

// Defer puts an in-flight job back on the scheduled set without counting
// an attempt. Used when local limits refuse to start it.
func (q *Queue) Defer(ctx context.Context, j *job.Job, delay time.Duration) error {
	data, err := j.Encode()
	if err != nil {
		return err
	}
	return q.broker.Retry(ctx, j.ID.String(), data, q.now().Add(delay))
}

// Stats counts jobs per state for the served queues.
func (q *Queue) Stats(ctx context.Context) (*broker.Stats, error) {
	return q.broker.Stats(ctx, q.queues)
}
