package cron_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker/memory"
	"github.com/xraph/tempo/cron"
)

func mustParse(t *testing.T, yaml string) *cron.ScheduleConfig {
	t.Helper()
	cfg, err := cron.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func mustReconcile(t *testing.T, r *cron.Registry, now time.Time) cron.Changes {
	t.Helper()
	changes, err := r.Reconcile(context.Background(), now)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return changes
}

func mustGet(t *testing.T, r *cron.Registry, name string) *cron.Entry {
	t.Helper()
	e, err := r.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Get(%s): %v", name, err)
	}
	return e
}

var t0 = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func TestReconcile_Idempotent(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	r := cron.NewRegistry(mustParse(t, sampleSchedule), b)

	changes := mustReconcile(t, r, t0)
	if want := []string{"daily_report", "paused", "sync_accounts"}; !slices.Equal(changes.Installed, want) {
		t.Fatalf("Installed = %v, want %v", changes.Installed, want)
	}

	if again := mustReconcile(t, r, t0.Add(time.Hour)); !again.Empty() {
		t.Fatalf("second reconcile must change nothing, got %+v", again)
	}

	// A fresh registry over the same broker sees the same installed state.
	other := cron.NewRegistry(mustParse(t, sampleSchedule), b)
	if third := mustReconcile(t, other, t0.Add(2*time.Hour)); !third.Empty() {
		t.Fatalf("fresh registry changed %+v", third)
	}

	entries, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	daily := mustGet(t, r, "daily_report")
	if want := time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC); !daily.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", daily.NextRunAt, want)
	}
	if daily.Template.Kind != "GenerateDailyReport" || daily.Template.Queue != "low" {
		t.Errorf("template = %+v", daily.Template)
	}
	if !daily.Enabled {
		t.Error("daily_report should be enabled")
	}
	if daily.ID.IsNil() {
		t.Error("installed entry has no ID")
	}

	if mustGet(t, r, "paused").Enabled {
		t.Error("paused should stay disabled")
	}
}

func TestReconcile_Updates(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	mustReconcile(t, cron.NewRegistry(mustParse(t, `
report:
  cron: "0 0 * * *"
  class: Report
  args: [1]
nightly:
  cron: "0 3 * * *"
  class: Cleanup
gone:
  cron: "@hourly"
  class: Old
`), b), t0)

	r := cron.NewRegistry(mustParse(t, `
report:
  cron: "0 0 * * *"
  class: Report
  args: [2]
nightly:
  cron: "0 4 * * *"
  class: Cleanup
`), b)
	changes := mustReconcile(t, r, t0.Add(30*time.Minute))
	if want := []string{"nightly", "report"}; !slices.Equal(changes.Updated, want) {
		t.Errorf("Updated = %v, want %v", changes.Updated, want)
	}
	if want := []string{"gone"}; !slices.Equal(changes.Removed, want) {
		t.Errorf("Removed = %v, want %v", changes.Removed, want)
	}
	if len(changes.Installed) != 0 {
		t.Errorf("Installed = %v", changes.Installed)
	}

	report := mustGet(t, r, "report")
	var arg int
	if err := json.Unmarshal(report.Template.Args[0], &arg); err != nil || arg != 2 {
		t.Errorf("args[0] = %s, want 2", report.Template.Args[0])
	}
	if want := time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC); !report.NextRunAt.Equal(want) {
		t.Errorf("template change must keep the next fire: got %v, want %v", report.NextRunAt, want)
	}

	nightly := mustGet(t, r, "nightly")
	if nightly.Cadence != "0 4 * * *" {
		t.Errorf("Cadence = %q", nightly.Cadence)
	}
	if want := time.Date(2026, 4, 11, 4, 0, 0, 0, time.UTC); !nightly.NextRunAt.Equal(want) {
		t.Errorf("cadence change must recompute the next fire: got %v, want %v", nightly.NextRunAt, want)
	}

	if _, err := r.Get(ctx, "gone"); !errors.Is(err, tempo.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestReconcile_ArgKeyOrderIsNotAChange(t *testing.T) {
	b := memory.New()

	mustReconcile(t, cron.NewRegistry(mustParse(t, "a:\n  cron: \"@daily\"\n  class: K\n  args: [{x: 1, y: 2}]\n"), b), t0)

	changes := mustReconcile(t, cron.NewRegistry(mustParse(t, "a:\n  cron: \"@daily\"\n  class: K\n  args: [{y: 2, x: 1}]\n"), b), t0)
	if !changes.Empty() {
		t.Fatalf("reordered keys reported as %+v", changes)
	}
}

func TestReconcile_ConcurrentProcesses(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	results := make([]cron.Changes, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := cron.NewRegistry(mustParse(t, sampleSchedule), b)
			results[i], errs[i] = r.Reconcile(ctx, t0)
		}()
	}
	wg.Wait()

	installed := 0
	for i, c := range results {
		if errs[i] != nil {
			t.Fatalf("process %d: %v", i, errs[i])
		}
		installed += len(c.Installed)
		if len(c.Updated) != 0 {
			t.Errorf("process %d updated %v", i, c.Updated)
		}
	}
	if installed != 3 {
		t.Fatalf("each entry must be installed by exactly one process, got %d installs", installed)
	}
}

func TestReconcile_LockHeld(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	ok, err := b.AcquireLock(ctx, "schedule:reconcile", "someone-else", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}

	r := cron.NewRegistry(mustParse(t, sampleSchedule), b, cron.WithReconcileLock(time.Second, 2))
	if _, err := r.Reconcile(ctx, t0); !errors.Is(err, tempo.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestReconcile_PublishesChange(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	r := cron.NewRegistry(mustParse(t, sampleSchedule), b)

	ch, cancel, err := r.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	mustReconcile(t, r, t0)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	// No changes, no notification.
	mustReconcile(t, r, t0)
	select {
	case <-ch:
		t.Fatal("unexpected notification for an idempotent reconcile")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconcile_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r := cron.NewRegistry(mustParse(t, "midnight:\n  cron: \"0 0 * * *\"\n  class: K\n"), memory.New(), cron.WithLocation(loc))

	mustReconcile(t, r, t0)
	e := mustGet(t, r, "midnight")
	if want := time.Date(2026, 4, 10, 22, 0, 0, 0, time.UTC); !e.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", e.NextRunAt, want)
	}
}

func TestReconcile_UnknownQueue(t *testing.T) {
	b := memory.New()
	cfg := mustParse(t, "report:\n  cron: \"@daily\"\n  class: K\n  queue: reports\n")

	r := cron.NewRegistry(cfg, b, cron.WithQueues("critical", "default", "low"))
	_, err := r.Reconcile(context.Background(), t0)
	if !errors.Is(err, tempo.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	entries, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("nothing should be installed, got %d entries", len(entries))
	}

	// An entry without a queue goes to the default queue.
	ok := cron.NewRegistry(mustParse(t, "report:\n  cron: \"@daily\"\n  class: K\n"), b, cron.WithQueues("default"))
	if changes := mustReconcile(t, ok, t0); len(changes.Installed) != 1 {
		t.Fatalf("Installed = %v", changes.Installed)
	}
}

func TestSetEnabled(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	r := cron.NewRegistry(mustParse(t, sampleSchedule), b)
	mustReconcile(t, r, t0)

	later := t0.Add(72 * time.Hour)
	e, err := r.SetEnabled(ctx, "paused", true, later)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if !e.Enabled {
		t.Error("entry should be enabled")
	}
	if !e.NextRunAt.After(later) {
		t.Errorf("enabling must skip missed occurrences, NextRunAt = %v", e.NextRunAt)
	}

	if _, err := r.SetEnabled(ctx, "missing", true, later); !errors.Is(err, tempo.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestSave_RejectsStaleEntry(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	r := cron.NewRegistry(mustParse(t, sampleSchedule), b)
	mustReconcile(t, r, t0)

	first := mustGet(t, r, "daily_report")
	second := mustGet(t, r, "daily_report")

	first.Description = "first"
	if err := r.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second.Description = "second"
	if err := r.Save(ctx, second); !errors.Is(err, cron.ErrEntryChanged) {
		t.Fatalf("expected ErrEntryChanged, got %v", err)
	}
	if got := mustGet(t, r, "daily_report").Description; got != "first" {
		t.Fatalf("Description = %q, want first", got)
	}

	// A saved entry can be saved again.
	first.Description = "again"
	if err := r.Save(ctx, first); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	// Removal wins over a save of an entry read before it.
	mustReconcile(t, cron.NewRegistry(nil, b), t0)
	if err := r.Save(ctx, first); !errors.Is(err, cron.ErrEntryChanged) {
		t.Fatalf("expected ErrEntryChanged after removal, got %v", err)
	}
	if _, err := r.Get(ctx, "daily_report"); !errors.Is(err, tempo.ErrScheduleNotFound) {
		t.Fatalf("removed entry came back: %v", err)
	}
}
