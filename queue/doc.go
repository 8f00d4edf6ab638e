// Package queue moves jobs through the broker: enqueue, pop, ack, fail with
// backoff, and the maintenance that promotes scheduled jobs and reclaims
// jobs whose worker vanished.
//
// Queues are named and strictly ordered. [Queue.Pop] always drains the first
// non-empty queue in the configured order (default: critical, default, low).
//
//	q := queue.New(b, []string{"critical", "default", "low"})
//	d, err := q.Pop(ctx, 2*time.Second)
//	if errors.Is(err, tempo.ErrEmpty) {
//	    // nothing to do
//	}
//
// A failed job is retried after base × 2^retry_count (capped) until its
// retry count exceeds max_retries, then it moves to the dead set.
//
// # Maintenance
//
// [Maintainer] ticks every second. Each tick promotes due scheduled jobs and
// returns in-flight jobs past their visibility timeout to the head of their
// queue. Any number of processes may run it concurrently.
//
// # Local limits
//
// [Manager] enforces per-queue and per-kind limits before a worker starts a
// job. It uses a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency limits.
//
//	m := queue.NewManager(queue.Config{Name: "low", MaxConcurrency: 2})
//	m.SetKindConfig(queue.KindConfig{Kind: "GenerateReport", RateLimit: 1})
//	if m.Acquire(d.Job.Queue, d.Job.Kind) {
//	    defer m.Release(d.Job.Queue, d.Job.Kind)
//	    // process the job
//	}
//
// Queues and kinds without a config have no limits beyond the pool-wide
// concurrency.
package queue
