package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker/memory"
	"github.com/xraph/tempo/dlq"
	"github.com/xraph/tempo/job"
	"github.com/xraph/tempo/queue"
)

func setup(t *testing.T) (*dlq.Service, *queue.Queue, *memory.Broker) {
	t.Helper()
	b := memory.New()
	q := queue.New(b, []string{"default"})
	return dlq.NewService(b, q), q, b
}

// kill enqueues a job with no retries and fails it once.
func kill(t *testing.T, q *queue.Queue, kind string, args job.Args, cause error) *job.Job {
	t.Helper()
	ctx := context.Background()

	if err := q.Enqueue(ctx, job.New(kind, args, job.WithMaxRetries(0))); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Pop(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	out, err := q.Fail(ctx, d.Job, cause)
	if err != nil || out != queue.OutcomeDead {
		t.Fatalf("Fail: outcome=%v err=%v", out, err)
	}
	return d.Job
}

func TestService_ListAndGet(t *testing.T) {
	svc, q, _ := setup(t)
	ctx := context.Background()

	j := kill(t, q, "SendEmail", job.MustArgs("alice@example.com"), errors.New("smtp timeout"))

	entries, err := svc.List(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.ID != j.ID.String() {
		t.Errorf("ID = %q, want %q", entry.ID, j.ID)
	}
	if entry.Kind != "SendEmail" {
		t.Errorf("Kind = %q, want %q", entry.Kind, "SendEmail")
	}
	if entry.Queue != "default" {
		t.Errorf("Queue = %q, want %q", entry.Queue, "default")
	}
	if string(entry.Args[0]) != `"alice@example.com"` {
		t.Errorf("Args[0] = %s", entry.Args[0])
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "smtp timeout")
	}
	if entry.RetryCount != 1 || entry.MaxRetries != 0 {
		t.Errorf("RetryCount/MaxRetries = %d/%d, want 1/0", entry.RetryCount, entry.MaxRetries)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}

	got, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != entry.Kind {
		t.Errorf("Get returned %q", got.Kind)
	}
}

func TestService_CountDeleteAndPurge(t *testing.T) {
	svc, q, _ := setup(t)
	ctx := context.Background()

	var last *job.Job
	for range 3 {
		last = kill(t, q, "K", nil, errors.New("fail"))
	}

	count, err := svc.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("Count = %d (err %v), want 3", count, err)
	}

	if err := svc.Delete(ctx, last.ID.String()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, last.ID.String()); !errors.Is(err, tempo.ErrDeadNotFound) {
		t.Fatalf("second Delete: expected ErrDeadNotFound, got %v", err)
	}

	n, err := svc.Purge(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Purge = %d (err %v), want 2", n, err)
	}
	if count, _ := svc.Count(ctx); count != 0 {
		t.Fatalf("Count after purge = %d", count)
	}
}

func TestService_Replay_CreatesFreshJob(t *testing.T) {
	svc, q, _ := setup(t)
	ctx := context.Background()

	original := kill(t, q, "replay-me", job.MustArgs(map[string]string{"key": "value"}), errors.New("original error"))

	replayed, err := svc.Replay(ctx, original.ID.String())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.RetryCount != 0 || replayed.LastError != "" || replayed.FailedAt != nil {
		t.Errorf("replayed job carries failure state: %+v", replayed)
	}

	d, err := q.Pop(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if d.Job.ID != replayed.ID || d.Job.Kind != "replay-me" || string(d.Job.Args[0]) != `{"key":"value"}` {
		t.Errorf("unexpected replayed job: %+v", d.Job)
	}

	if _, err := svc.Get(ctx, original.ID.String()); !errors.Is(err, tempo.ErrDeadNotFound) {
		t.Errorf("replayed entry should leave the dead set, got %v", err)
	}
}

func TestService_Replay_NotFound(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.Replay(context.Background(), "job_missing")
	if !errors.Is(err, tempo.ErrDeadNotFound) {
		t.Fatalf("expected ErrDeadNotFound, got %v", err)
	}
}

func TestService_UndecodableEntry(t *testing.T) {
	svc, q, b := setup(t)
	ctx := context.Background()

	if err := b.Push(ctx, "default", "poison", []byte("\x00garbage"), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Pop(ctx, 50*time.Millisecond); err == nil {
		t.Fatal("expected decode error")
	}

	entry, err := svc.Get(ctx, "poison")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Job() != nil || len(entry.Raw) == 0 {
		t.Errorf("expected raw-only entry, got %+v", entry)
	}

	if _, err := svc.Replay(ctx, "poison"); !errors.Is(err, tempo.ErrValidation) {
		t.Errorf("expected ErrValidation replaying poison, got %v", err)
	}
}
