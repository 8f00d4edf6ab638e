// Package worker runs jobs: an Executor that invokes registered handlers
// through middleware and the result cache, and a Pool of slots that pop
// jobs from the broker and settle them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/cache"
	"github.com/xraph/tempo/job"
	"github.com/xraph/tempo/middleware"
	"github.com/xraph/tempo/queue"
)

// Emitter receives job lifecycle events. *ext.Registry satisfies it.
type Emitter interface {
	EmitJobStarted(ctx context.Context, j *job.Job)
	EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration)
	EmitJobFailed(ctx context.Context, j *job.Job, err error)
	EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time)
	EmitJobDead(ctx context.Context, j *job.Job, err error)
}

// Status is how an execution was settled.
type Status int

const (
	// StatusAcked means the handler succeeded and the job was removed.
	StatusAcked Status = iota
	// StatusDiscarded means the handler asked not to be retried.
	StatusDiscarded
	// StatusRetrying means the job was rescheduled after a failure.
	StatusRetrying
	// StatusDead means the retry budget is spent.
	StatusDead
	// StatusDeferred means local limits refused to start the job; it was
	// put back without counting an attempt.
	StatusDeferred
	// StatusAbandoned means shutdown cancelled the job before it settled.
	// It stays in-flight and is reclaimed after the visibility timeout.
	StatusAbandoned
)

func (s Status) String() string {
	switch s {
	case StatusAcked:
		return "acked"
	case StatusDiscarded:
		return "discarded"
	case StatusRetrying:
		return "retrying"
	case StatusDead:
		return "dead"
	case StatusDeferred:
		return "deferred"
	case StatusAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Result reports one settled delivery.
type Result struct {
	Job      *job.Job
	Status   Status
	Err      error
	Elapsed  time.Duration
	CacheHit bool
	Slot     int
}

// Executor runs a job through middleware and its handler, then settles it
// against the queue.
type Executor struct {
	registry *job.Registry
	queue    *queue.Queue
	cache    *cache.Cache
	mw       middleware.Middleware
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCache enables the result cache for jobs with a positive CacheTTL.
func WithCache(c *cache.Cache) ExecutorOption {
	return func(e *Executor) { e.cache = c }
}

// WithMiddleware replaces the default middleware chain.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor. The queue may be nil for an executor
// used only through Run.
func NewExecutor(registry *job.Registry, q *queue.Queue, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		queue:    q,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mw == nil {
		e.mw = middleware.Default(e.logger)
	}
	return e
}

// Run resolves the handler for j and executes it through the middleware
// chain, consulting the result cache when j.CacheTTL is positive. An
// unknown kind returns an error wrapping tempo.ErrUnknownKind.
func (e *Executor) Run(ctx context.Context, j *job.Job) (job.Result, bool, error) {
	h, err := e.registry.Resolve(j.Kind)
	if err != nil {
		return nil, false, err
	}

	var out job.Result
	call := func(ctx context.Context) ([]byte, error) {
		var res job.Result
		err := e.mw(ctx, j, func(ctx context.Context) error {
			var herr error
			res, herr = h.Execute(ctx, j.Args)
			return herr
		})
		return res, err
	}

	if j.CacheTTL <= 0 || e.cache == nil {
		out, err = call(ctx)
		return out, false, err
	}

	fp, err := cache.Fingerprint(j.Kind, j.Args)
	if err != nil {
		return nil, false, tempo.Discard(err)
	}
	v, hit, err := e.cache.GetOrCompute(ctx, fp, j.CacheTTL, call)
	return v, hit, err
}

// Execute runs a popped job and settles it: ack on success, ack without
// retry on a discard, otherwise Fail, which retries or buries it. When
// stopping is done before the handler returns, the job is left in-flight.
func (e *Executor) Execute(ctx context.Context, stopping <-chan struct{}, j *job.Job) Result {
	start := time.Now()
	_, hit, runErr := e.Run(ctx, j)
	res := Result{Job: j, Elapsed: time.Since(start), CacheHit: hit}

	// Settle with a context that survives the job's cancellation.
	settleCtx := context.WithoutCancel(ctx)

	if runErr != nil && ctx.Err() != nil && isClosed(stopping) {
		res.Status = StatusAbandoned
		res.Err = runErr
		return res
	}

	switch {
	case runErr == nil:
		res.Status = StatusAcked
		if err := e.queue.Ack(settleCtx, j); err != nil {
			res.Err = fmt.Errorf("worker: ack %s: %w", j.ID, err)
		}

	case tempo.IsDiscard(runErr):
		res.Status = StatusDiscarded
		res.Err = runErr
		if err := e.queue.Discard(settleCtx, j); err != nil {
			res.Err = errors.Join(runErr, fmt.Errorf("worker: discard %s: %w", j.ID, err))
		}

	default:
		failure := &tempo.HandlerFailure{Kind: j.Kind, JobID: j.ID.String(), Err: runErr}
		res.Err = failure
		outcome, err := e.queue.Fail(settleCtx, j, runErr)
		if outcome == queue.OutcomeDead {
			res.Status = StatusDead
		} else {
			res.Status = StatusRetrying
		}
		if err != nil {
			res.Err = errors.Join(failure, err)
		}
	}
	return res
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
