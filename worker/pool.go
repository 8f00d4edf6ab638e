package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/job"
	"github.com/xraph/tempo/queue"
)

// Limiter controls per-queue and per-kind concurrency and rates. The pool
// calls Acquire before executing a popped job and Release afterwards.
// *queue.Manager satisfies it.
type Limiter interface {
	Acquire(queue, kind string) bool
	Release(queue, kind string)
}

// Stats counts settled deliveries since the pool started.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
	Deferred  int64 `json:"deferred"`
	Busy      int64 `json:"busy"`
}

// Pool runs Concurrency slots. Each slot pops a job, executes and settles
// it, and sends a Result to the supervisor, which reports it.
type Pool struct {
	queue    *queue.Queue
	executor *Executor
	limiter  Limiter
	emitter  Emitter
	logger   *slog.Logger

	concurrency     int
	popTimeout      time.Duration
	deferDelay      time.Duration
	errorBackoff    time.Duration
	shutdownTimeout time.Duration
	abandonGrace    time.Duration

	results chan Result
	stopCh  chan struct{}

	// jobCtx parents every job context; cancelJobs fires once the
	// shutdown timeout has elapsed.
	jobCtx     context.Context
	cancelJobs context.CancelFunc

	slots      sync.WaitGroup
	supervisor sync.WaitGroup
	mu         sync.Mutex
	running    bool

	processed atomic.Int64
	failed    atomic.Int64
	dead      atomic.Int64
	deferred  atomic.Int64
	busy      atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of slots.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPopTimeout bounds how long a slot blocks waiting for a job.
func WithPopTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.popTimeout = d }
}

// WithLimiter sets the concurrency and rate limiter.
func WithLimiter(l Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithDeferDelay sets how far a job refused by the limiter is pushed back.
func WithDeferDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.deferDelay = d }
}

// WithShutdownTimeout sets how long Stop waits for running jobs before
// cancelling their contexts.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithEmitter sets the receiver of lifecycle events.
func WithEmitter(e Emitter) PoolOption {
	return func(p *Pool) { p.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:           q,
		executor:        executor,
		logger:          slog.Default(),
		concurrency:     10,
		popTimeout:      2 * time.Second,
		deferDelay:      time.Second,
		errorBackoff:    time.Second,
		shutdownTimeout: 25 * time.Second,
		abandonGrace:    5 * time.Second,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.results = make(chan Result, p.concurrency)
	p.jobCtx, p.cancelJobs = context.WithCancel(context.Background())
	return p
}

// Concurrency returns the number of slots.
func (p *Pool) Concurrency() int { return p.concurrency }

// Stats returns the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dead:      p.dead.Load(),
		Deferred:  p.deferred.Load(),
		Busy:      p.busy.Load(),
	}
}

// Start launches the slots and the supervisor. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queue.Names()),
	)

	p.supervisor.Add(1)
	go p.supervise()

	for i := range p.concurrency {
		p.slots.Add(1)
		go p.slot(i)
	}
	return nil
}

// Stop stops popping and waits for running jobs. Jobs still running after
// the shutdown timeout, or when ctx ends, have their contexts cancelled
// and are left in-flight for reclaim. A handler that ignores cancellation
// is abandoned once ctx ends or a short grace period passes, so Stop
// always returns.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.Int64("busy", p.busy.Load()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.slots.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.shutdownTimeout)
	defer timer.Stop()

	stopped := true
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-timer.C:
		stopped = p.forceStop(ctx, done)
	case <-ctx.Done():
		stopped = p.forceStop(ctx, done)
	}
	p.cancelJobs()

	if !stopped {
		// Abandoned handlers still report when they finally return.
		go func() {
			<-done
			close(p.results)
		}()
		return nil
	}
	close(p.results)
	p.supervisor.Wait()
	return nil
}

// forceStop cancels running jobs and waits a bounded time for their slots
// to exit. It reports whether they did.
func (p *Pool) forceStop(ctx context.Context, done <-chan struct{}) bool {
	p.logger.Warn("worker pool shutdown timed out, cancelling running jobs", slog.Int64("busy", p.busy.Load()))
	p.cancelJobs()

	grace := time.NewTimer(p.abandonGrace)
	defer grace.Stop()
	select {
	case <-done:
		return true
	case <-ctx.Done():
	case <-grace.C:
	}
	p.logger.Error("worker pool stopped with handlers ignoring cancellation; their jobs will be reclaimed",
		slog.Int64("busy", p.busy.Load()),
	)
	return false
}

// slot is run by each slot goroutine.
func (p *Pool) slot(n int) {
	defer p.slots.Done()

	// popCtx ends when the pool stops so a blocking Pop returns.
	popCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-popCtx.Done():
		}
	}()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		d, err := p.queue.Pop(popCtx, p.popTimeout)
		switch {
		case err == nil:
		case errors.Is(err, tempo.ErrEmpty):
			continue
		case popCtx.Err() != nil:
			return
		default:
			p.logger.Error("pop error", slog.Int("slot", n), slog.String("error", err.Error()))
			p.sleep(p.errorBackoff)
			continue
		}

		res := p.run(d.Job)
		res.Slot = n
		p.results <- res
	}
}

// run executes one popped job, honouring the limiter.
func (p *Pool) run(j *job.Job) Result {
	if p.limiter != nil {
		if !p.limiter.Acquire(j.Queue, j.Kind) {
			res := Result{Job: j, Status: StatusDeferred}
			if err := p.queue.Defer(context.Background(), j, p.deferDelay); err != nil {
				res.Err = err
			}
			return res
		}
		defer p.limiter.Release(j.Queue, j.Kind)
	}

	p.busy.Add(1)
	defer p.busy.Add(-1)

	ctx, cancel := context.WithCancel(p.jobCtx)
	defer cancel()

	if p.emitter != nil {
		p.emitter.EmitJobStarted(ctx, j)
	}
	return p.executor.Execute(ctx, p.stopCh, j)
}

// supervise reports results until the channel is closed.
func (p *Pool) supervise() {
	defer p.supervisor.Done()
	for res := range p.results {
		p.report(res)
	}
}

func (p *Pool) report(res Result) {
	// Counters are updated after the events are emitted.
	defer p.count(res.Status)

	ctx := context.Background()
	j := res.Job
	attrs := []any{
		slog.String("job_kind", j.Kind),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	}

	switch res.Status {
	case StatusAcked:
		if res.Err != nil {
			p.logger.Error("job ack error", append(attrs, slog.String("error", res.Err.Error()))...)
		}
		if p.emitter != nil {
			p.emitter.EmitJobCompleted(ctx, j, res.Elapsed)
		}

	case StatusDiscarded:
		p.logger.Info("job discarded", append(attrs, slog.String("error", res.Err.Error()))...)
		if p.emitter != nil {
			p.emitter.EmitJobFailed(ctx, j, res.Err)
		}

	case StatusRetrying:
		next := time.Now()
		if j.FailedAt != nil {
			next = j.FailedAt.Add(j.Retry.Delay(j.RetryCount))
		}
		p.logger.Warn("job failed, retrying", append(attrs,
			slog.Int("retry_count", j.RetryCount),
			slog.Int("max_retries", j.Retry.MaxRetries),
			slog.Time("next_run_at", next),
			slog.String("error", res.Err.Error()),
		)...)
		if p.emitter != nil {
			p.emitter.EmitJobFailed(ctx, j, res.Err)
			p.emitter.EmitJobRetrying(ctx, j, j.RetryCount, next)
		}

	case StatusDead:
		p.logger.Error("job dead after exhausting retries", append(attrs,
			slog.Int("retry_count", j.RetryCount),
			slog.String("error", res.Err.Error()),
		)...)
		if p.emitter != nil {
			p.emitter.EmitJobFailed(ctx, j, res.Err)
			p.emitter.EmitJobDead(ctx, j, res.Err)
		}

	case StatusDeferred:
		if res.Err != nil {
			p.logger.Error("job defer error", append(attrs, slog.String("error", res.Err.Error()))...)
		}

	case StatusAbandoned:
		p.logger.Warn("job abandoned at shutdown; it will be reclaimed", attrs...)
	}
}

func (p *Pool) count(s Status) {
	switch s {
	case StatusAcked, StatusDiscarded:
		p.processed.Add(1)
	case StatusRetrying:
		p.processed.Add(1)
		p.failed.Add(1)
	case StatusDead:
		p.processed.Add(1)
		p.failed.Add(1)
		p.dead.Add(1)
	case StatusDeferred:
		p.deferred.Add(1)
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}
