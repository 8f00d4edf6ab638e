package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker/memory"
	"github.com/xraph/tempo/job"
	"github.com/xraph/tempo/queue"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var queues = []string{"critical", "default", "low"}

func setup(t *testing.T) (*queue.Queue, *queue.Maintainer, *memory.Broker, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := memory.New(memory.WithClock(c.Now))
	q := queue.New(b, queues, queue.WithClock(c.Now))
	m := queue.NewMaintainer(b, queue.WithMaintainerClock(c.Now))
	return q, m, b, c
}

func mustPop(t *testing.T, q *queue.Queue) *queue.Delivery {
	t.Helper()
	d, err := q.Pop(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	return d
}

func TestEnqueue_Validation(t *testing.T) {
	q, _, _, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		job  *job.Job
	}{
		{"empty kind", job.New("", nil)},
		{"unknown queue", job.New("Report", nil, job.WithQueue("bulk"))},
		{"negative retries", job.New("Report", nil, job.WithMaxRetries(-1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.Enqueue(ctx, tt.job)
			if !errors.Is(err, tempo.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for name, n := range st.Pending {
		if n != 0 {
			t.Fatalf("queue %s: invalid jobs must never be queued, found %d", name, n)
		}
	}
}

func TestEnqueuePopAck(t *testing.T) {
	q, _, _, _ := setup(t)
	ctx := context.Background()

	j := job.New("SendEmail", job.MustArgs("a@example.com", 3))
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d := mustPop(t, q)
	if d.Job.ID != j.ID || d.Job.Kind != "SendEmail" || len(d.Job.Args) != 2 {
		t.Fatalf("unexpected delivery: %+v", d.Job)
	}
	if err := q.Ack(ctx, d.Job); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := q.Ack(ctx, d.Job); !errors.Is(err, tempo.ErrJobNotFound) {
		t.Fatalf("second Ack: expected ErrJobNotFound, got %v", err)
	}

	if _, err := q.Pop(ctx, 10*time.Millisecond); !errors.Is(err, tempo.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestPop_PriorityOrder(t *testing.T) {
	q, _, _, _ := setup(t)
	ctx := context.Background()

	for _, name := range []string{"low", "default", "critical"} {
		if err := q.Enqueue(ctx, job.New("K", nil, job.WithQueue(name))); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range queues {
		if got := mustPop(t, q).Message.Queue; got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestScheduledJobIsPromotedWhenDue(t *testing.T) {
	q, m, _, c := setup(t)
	ctx := context.Background()

	j := job.New("Later", nil, job.WithRunAt(c.Now().Add(time.Minute)))
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Pop(ctx, 10*time.Millisecond); !errors.Is(err, tempo.ErrEmpty) {
		t.Fatalf("scheduled job must not be poppable yet, got %v", err)
	}

	c.Advance(time.Minute)
	promoted, _, err := m.Tick(ctx)
	if err != nil || promoted != 1 {
		t.Fatalf("Tick: promoted=%d err=%v", promoted, err)
	}
	if got := mustPop(t, q).Job.ID; got != j.ID {
		t.Fatalf("expected %s, got %s", j.ID, got)
	}
}

func TestFail_RetriesWithBackoffThenDies(t *testing.T) {
	q, m, b, c := setup(t)
	ctx := context.Background()

	j := job.New("Flaky", nil, job.WithMaxRetries(2), job.WithBackoff(time.Second, time.Hour))
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	attempts := 0
	for {
		d := mustPop(t, q)
		attempts++
		if d.Job.RetryCount != attempts-1 {
			t.Fatalf("attempt %d: retry_count = %d", attempts, d.Job.RetryCount)
		}

		out, err := q.Fail(ctx, d.Job, boom)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if out == queue.OutcomeDead {
			break
		}

		// base × 2^retry_count: 2s after the first failure, 4s after the second.
		wait := time.Second << d.Job.RetryCount
		c.Advance(wait - time.Millisecond)
		if n, _, _ := m.Tick(ctx); n != 0 {
			t.Fatalf("attempt %d: promoted before backoff elapsed", attempts)
		}
		c.Advance(time.Millisecond)
		if n, _, _ := m.Tick(ctx); n != 1 {
			t.Fatalf("attempt %d: expected promotion after %s", attempts, wait)
		}
	}

	if attempts != 3 {
		t.Fatalf("expected max_retries+1 = 3 attempts, got %d", attempts)
	}

	dead, err := b.Dead(ctx, 0, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected one dead job, got %d (err %v)", len(dead), err)
	}
	got, err := job.Decode(dead[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 3 || got.LastError != "boom" || got.FailedAt == nil {
		t.Fatalf("dead descriptor not updated: %+v", got)
	}
}

func TestReclaimAfterVisibilityTimeout(t *testing.T) {
	q, m, _, c := setup(t)
	ctx := context.Background()

	j := job.New("Crashy", nil)
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	_ = mustPop(t, q) // the worker dies here without acking

	c.Advance(queue.DefaultVisibilityTimeout - time.Second)
	if _, n, _ := m.Tick(ctx); n != 0 {
		t.Fatal("reclaimed before the visibility timeout")
	}

	c.Advance(time.Second)
	if _, n, err := m.Tick(ctx); err != nil || n != 1 {
		t.Fatalf("Tick: reclaimed=%d err=%v", n, err)
	}

	d := mustPop(t, q)
	if d.Job.ID != j.ID {
		t.Fatalf("expected redelivery of %s, got %s", j.ID, d.Job.ID)
	}
	if d.Job.RetryCount != 0 {
		t.Fatalf("reclaim must not count as a retry, got %d", d.Job.RetryCount)
	}
}

func TestDefer_DoesNotCountAttempt(t *testing.T) {
	q, m, _, c := setup(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, job.New("Limited", nil)); err != nil {
		t.Fatal(err)
	}
	d := mustPop(t, q)
	if err := q.Defer(ctx, d.Job, 100*time.Millisecond); err != nil {
		t.Fatalf("Defer: %v", err)
	}

	c.Advance(100 * time.Millisecond)
	if _, _, err := m.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mustPop(t, q).Job.RetryCount; got != 0 {
		t.Fatalf("expected retry_count 0, got %d", got)
	}
}

func TestPop_UndecodableMessageIsBuried(t *testing.T) {
	q, _, b, _ := setup(t)
	ctx := context.Background()

	if err := b.Push(ctx, "default", "garbage", []byte("{not json"), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Pop(ctx, 50*time.Millisecond); err == nil {
		t.Fatal("expected decode error")
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Dead != 1 || st.InFlight != 0 {
		t.Fatalf("expected poison message in dead set, got %+v", st)
	}
}

func TestMaintainer_StartStop(t *testing.T) {
	b := memory.New()
	q := queue.New(b, queues)
	m := queue.NewMaintainer(b, queue.WithInterval(10*time.Millisecond))
	ctx := context.Background()

	if err := q.Enqueue(ctx, job.New("Soon", nil, job.WithDelay(20*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Stop(ctx) }()

	if _, err := q.Pop(ctx, 2*time.Second); err != nil {
		t.Fatalf("expected promoted job, got %v", err)
	}
}
