package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release should always succeed.
	if !m.Acquire("any-queue", "") {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	m.Release("any-queue", "")
}

func TestNewManager_WithConfig(t *testing.T) {
	m := NewManager(Config{
		Name:           "emails",
		MaxConcurrency: 2,
	})
	if m.ActiveCount("emails") != 0 {
		t.Fatal("expected 0 active jobs initially")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		Name:           "emails",
		MaxConcurrency: 2,
	})

	if !m.Acquire("emails", "") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("emails", "") {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if m.Acquire("emails", "") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	m.Release("emails", "")
	if !m.Acquire("emails", "") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_AcquireRelease_ActiveCount(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 5,
	})

	for i := range 3 {
		if !m.Acquire("q", "") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("q"))
	}

	m.Release("q", "")
	m.Release("q", "")
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{
		Name:      "limited",
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	if !m.Acquire("limited", "") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release("limited", "")

	// Immediately after, token bucket is empty.
	if m.Acquire("limited", "") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire("limited", "") {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release("limited", "")
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{
		Name:      "bursty",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate acquires should succeed (burst = 3).
	for i := range 3 {
		if !m.Acquire("bursty", "") {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		m.Release("bursty", "")
	}
}

// ---------------------------------------------------------------------------
// Per-kind limits
// ---------------------------------------------------------------------------

func TestManager_KindConcurrency(t *testing.T) {
	m := NewManager(Config{
		Name:           "default",
		MaxConcurrency: 100,
	})

	m.SetKindConfig(KindConfig{Kind: "ResizeImage", MaxConcurrency: 1})

	if !m.Acquire("default", "ResizeImage") {
		t.Fatal("first ResizeImage Acquire should succeed")
	}
	if m.Acquire("default", "ResizeImage") {
		t.Fatal("second ResizeImage Acquire should fail (kind max 1)")
	}
	// The kind limit applies whatever queue the job arrives on.
	if m.Acquire("critical", "ResizeImage") {
		t.Fatal("ResizeImage on another queue should also be blocked")
	}

	// Unconfigured kinds are unaffected.
	if !m.Acquire("default", "SendEmail") {
		t.Fatal("SendEmail Acquire should succeed (no kind limit)")
	}

	m.Release("default", "ResizeImage")
	m.Release("default", "SendEmail")
}

func TestManager_KindIsolation(t *testing.T) {
	m := NewManager(Config{Name: "work", MaxConcurrency: 100})
	m.SetKindConfig(KindConfig{Kind: "A", MaxConcurrency: 2})
	m.SetKindConfig(KindConfig{Kind: "B", MaxConcurrency: 2})

	m.Acquire("work", "A")
	m.Acquire("work", "A")

	if m.Acquire("work", "A") {
		t.Fatal("kind A should be blocked at max concurrency")
	}
	if !m.Acquire("work", "B") {
		t.Fatal("kind B should not be affected by kind A's limits")
	}

	m.Release("work", "A")
	m.Release("work", "A")
	m.Release("work", "B")
}

func TestManager_KindRateLimit(t *testing.T) {
	m := NewManager()
	m.SetKindConfig(KindConfig{Kind: "Report", RateLimit: 0.5, RateBurst: 1})

	if !m.Acquire("default", "Report") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release("default", "Report")
	if m.Acquire("default", "Report") {
		t.Fatal("second Acquire should fail (kind rate limited)")
	}
}

func TestManager_QueueFullDoesNotSpendKindToken(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 1})
	m.SetKindConfig(KindConfig{Kind: "K", RateLimit: 0.1, RateBurst: 1})

	if !m.Acquire("q", "other") {
		t.Fatal("filling the queue slot should succeed")
	}
	if m.Acquire("q", "K") {
		t.Fatal("queue is full; Acquire should fail")
	}
	m.Release("q", "other")

	if !m.Acquire("q", "K") {
		t.Fatal("kind token should still be available")
	}
	m.Release("q", "K")
}

func TestManager_KindActiveCount(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 10})
	m.SetKindConfig(KindConfig{Kind: "t1", MaxConcurrency: 5})

	m.Acquire("q", "t1")
	m.Acquire("q", "t1")

	if got := m.KindActiveCount("t1"); got != 2 {
		t.Fatalf("expected kind active 2, got %d", got)
	}

	m.SetKindConfig(KindConfig{Kind: "t1", MaxConcurrency: 1})
	if got := m.KindActiveCount("t1"); got != 2 {
		t.Fatalf("reconfiguring should preserve active count, got %d", got)
	}

	m.Release("q", "t1")
	if got := m.KindActiveCount("t1"); got != 1 {
		t.Fatalf("expected kind active 1, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestManager_SetQueueConfig(t *testing.T) {
	m := NewManager(Config{
		Name:           "dyn",
		MaxConcurrency: 1,
	})

	m.Acquire("dyn", "")
	if m.Acquire("dyn", "") {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raise the limit dynamically.
	m.SetQueueConfig(Config{
		Name:           "dyn",
		MaxConcurrency: 3,
	})

	// Now should succeed.
	if !m.Acquire("dyn", "") {
		t.Fatal("should succeed after raising concurrency")
	}
	m.Release("dyn", "")
	m.Release("dyn", "")
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{
		Name:           "concurrent",
		MaxConcurrency: 50,
	})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("concurrent", "") {
				acquired.Add(1)
				// Simulate work.
				time.Sleep(time.Millisecond)
				m.Release("concurrent", "")
			}
		}()
	}

	wg.Wait()

	// At least some should have succeeded.
	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}

	// Active should be back to 0.
	if m.ActiveCount("concurrent") != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount("concurrent"))
	}
}

func TestManager_UnconfiguredQueue_AlwaysSucceeds(t *testing.T) {
	m := NewManager(Config{
		Name:           "configured",
		MaxConcurrency: 1,
	})

	// "other" queue has no config, so no limits.
	for range 10 {
		if !m.Acquire("other", "") {
			t.Fatal("unconfigured queue should always allow Acquire")
		}
	}
	for range 10 {
		m.Release("other", "")
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 5,
	})

	// Release without Acquire should not go negative.
	m.Release("q", "")
	if m.ActiveCount("q") != 0 {
		t.Fatal("active count should not go below 0")
	}
}
