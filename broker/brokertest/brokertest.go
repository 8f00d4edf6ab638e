// Package brokertest is a conformance suite every broker.Broker backend runs
// from its own tests.
package brokertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
)

var queues = []string{"critical", "default", "low"}

// Run runs the suite. newBroker must return an empty broker per call.
func Run(t *testing.T, newBroker func(t *testing.T) broker.Broker) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b broker.Broker)
	}{
		{"PushPopAck", testPushPopAck},
		{"RepeatedPushListsOnce", testRepeatedPush},
		{"PriorityOrder", testPriorityOrder},
		{"FIFOWithinQueue", testFIFO},
		{"PopTimeoutReturnsEmpty", testPopEmpty},
		{"PopWakesOnPush", testPopWakes},
		{"ScheduledNotPoppedUntilPromoted", testScheduled},
		{"ConcurrentPromoteMovesEachOnce", testConcurrentPromote},
		{"RetryThenBury", testRetryBury},
		{"ReclaimExpiredInFlight", testReclaim},
		{"DeadListAndPurge", testDeadPurge},
		{"KV", testKV},
		{"Hash", testHash},
		{"HashCompareAndSet", testHashSetIf},
		{"Locks", testLocks},
		{"PubSub", testPubSub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBroker(t))
		})
	}
}

func pop(t *testing.T, b broker.Broker) *broker.Message {
	t.Helper()
	msg, err := b.Pop(context.Background(), queues, time.Second, time.Minute)
	require.NoError(t, err)
	return msg
}

func testPushPopAck(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "default", "job_a", []byte(`{"kind":"a"}`), time.Time{}))

	msg := pop(t, b)
	assert.Equal(t, "job_a", msg.Ref)
	assert.Equal(t, "default", msg.Queue)
	assert.JSONEq(t, `{"kind":"a"}`, string(msg.Payload))
	assert.True(t, msg.At.After(time.Now()), "visibility deadline should be in the future")

	s, err := b.Stats(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.InFlight)
	assert.Equal(t, int64(0), s.Pending["default"])

	require.NoError(t, b.Ack(ctx, "job_a"))
	require.ErrorIs(t, b.Ack(ctx, "job_a"), tempo.ErrJobNotFound)

	s, err = b.Stats(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.InFlight)
}

func testRepeatedPush(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "default", "job_once", []byte("v1"), time.Time{}))
	require.NoError(t, b.Push(ctx, "default", "job_once", []byte("v2"), time.Time{}))

	s, err := b.Stats(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Pending["default"])

	msg := pop(t, b)
	assert.Equal(t, "job_once", msg.Ref)
	assert.Equal(t, "v1", string(msg.Payload))

	_, err = b.Pop(ctx, queues, 50*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, tempo.ErrEmpty)

	// Repeating a push while the ref is in flight does not requeue it.
	require.NoError(t, b.Push(ctx, "default", "job_once", []byte("v3"), time.Time{}))
	_, err = b.Pop(ctx, queues, 50*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, tempo.ErrEmpty)

	// Once acked the ref is gone and may be pushed again.
	require.NoError(t, b.Ack(ctx, "job_once"))
	require.NoError(t, b.Push(ctx, "default", "job_once", []byte("v4"), time.Time{}))
	assert.Equal(t, "v4", string(pop(t, b).Payload))
}

func testPriorityOrder(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "low", "job_low", nil, time.Time{}))
	require.NoError(t, b.Push(ctx, "default", "job_default", nil, time.Time{}))
	require.NoError(t, b.Push(ctx, "critical", "job_critical", nil, time.Time{}))

	assert.Equal(t, "job_critical", pop(t, b).Ref)
	assert.Equal(t, "job_default", pop(t, b).Ref)
	assert.Equal(t, "job_low", pop(t, b).Ref)
}

func testFIFO(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, b.Push(ctx, "default", fmt.Sprintf("job_%d", i), nil, time.Time{}))
	}
	for i := range 5 {
		assert.Equal(t, fmt.Sprintf("job_%d", i), pop(t, b).Ref)
	}
}

func testPopEmpty(t *testing.T, b broker.Broker) {
	start := time.Now()
	_, err := b.Pop(context.Background(), queues, 50*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, tempo.ErrEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func testPopWakes(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	got := make(chan *broker.Message, 1)
	go func() {
		msg, err := b.Pop(ctx, queues, 5*time.Second, time.Minute)
		if err == nil {
			got <- msg
		}
		close(got)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Push(ctx, "low", "job_late", nil, time.Time{}))

	select {
	case msg := <-got:
		require.NotNil(t, msg)
		assert.Equal(t, "job_late", msg.Ref)
	case <-time.After(3 * time.Second):
		t.Fatal("Pop did not return after a push")
	}
}

func testScheduled(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	runAt := time.Now().Add(time.Hour)
	require.NoError(t, b.Push(ctx, "default", "job_later", nil, runAt))

	_, err := b.Pop(ctx, queues, 20*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, tempo.ErrEmpty)

	n, err := b.Promote(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.Promote(ctx, runAt.Add(time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "job_later", pop(t, b).Ref)
}

func testConcurrentPromote(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	const jobs = 40
	runAt := time.Now().Add(time.Hour)
	for i := range jobs {
		require.NoError(t, b.Push(ctx, "default", fmt.Sprintf("job_%02d", i), nil, runAt))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := b.Promote(ctx, runAt.Add(time.Minute), 10)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Whatever the interleaving, the remainder is promoted by a final pass.
	n, err := b.Promote(ctx, runAt.Add(time.Minute), jobs)
	require.NoError(t, err)
	total += n

	assert.Equal(t, jobs, total)
	s, err := b.Stats(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, int64(jobs), s.Pending["default"])
	assert.Equal(t, int64(0), s.Scheduled)
}

func testRetryBury(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "default", "job_r", []byte("v1"), time.Time{}))
	msg := pop(t, b)

	at := time.Now().Add(-time.Second)
	require.NoError(t, b.Retry(ctx, msg.Ref, []byte("v2"), at))
	require.ErrorIs(t, b.Retry(ctx, msg.Ref, []byte("v2"), at), tempo.ErrJobNotFound)

	n, err := b.Promote(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	msg = pop(t, b)
	assert.Equal(t, "v2", string(msg.Payload))

	require.NoError(t, b.Bury(ctx, msg.Ref, []byte("v3")))
	dead, err := b.DeadGet(ctx, "job_r")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(dead.Payload))
	assert.Equal(t, "default", dead.Queue)

	s, err := b.Stats(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Dead)
	assert.Equal(t, int64(0), s.InFlight)

	require.NoError(t, b.DeadDelete(ctx, "job_r"))
	require.ErrorIs(t, b.DeadDelete(ctx, "job_r"), tempo.ErrDeadNotFound)
	_, err = b.DeadGet(ctx, "job_r")
	require.ErrorIs(t, err, tempo.ErrDeadNotFound)
}

func testReclaim(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "default", "job_crash", nil, time.Time{}))
	require.NoError(t, b.Push(ctx, "default", "job_next", nil, time.Time{}))
	first := pop(t, b)
	require.Equal(t, "job_crash", first.Ref)

	n, err := b.Reclaim(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is past its visibility deadline yet")

	n, err = b.Reclaim(ctx, first.At.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "job_crash", pop(t, b).Ref, "reclaimed job goes to the head")
	require.ErrorIs(t, b.Ack(ctx, "job_unknown"), tempo.ErrJobNotFound)
}

func testDeadPurge(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	for _, ref := range []string{"job_1", "job_2", "job_3"} {
		require.NoError(t, b.Push(ctx, "default", ref, []byte(ref), time.Time{}))
		msg := pop(t, b)
		require.NoError(t, b.Bury(ctx, msg.Ref, msg.Payload))
		time.Sleep(2 * time.Millisecond)
	}

	all, err := b.Dead(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job_3", all[0].Ref, "most recent first")

	page, err := b.Dead(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "job_2", page[0].Ref)

	n, err := b.DeadPurge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err = b.Dead(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testKV(t *testing.T, b broker.Broker) {
	ctx := context.Background()

	_, err := b.Get(ctx, "cache:none")
	require.ErrorIs(t, err, tempo.ErrMiss)

	require.NoError(t, b.SetEX(ctx, "cache:a", []byte("1"), time.Minute))
	v, err := b.Get(ctx, "cache:a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	ok, err := b.SetNX(ctx, "cache:a", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.SetNX(ctx, "cache:b", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Del(ctx, "cache:a", "cache:b", "cache:none"))
	_, err = b.Get(ctx, "cache:a")
	require.ErrorIs(t, err, tempo.ErrMiss)
}

func testHash(t *testing.T, b broker.Broker) {
	ctx := context.Background()

	empty, err := b.HGetAll(ctx, "schedules")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, b.HSet(ctx, "schedules", "a", []byte("1")))
	require.NoError(t, b.HSet(ctx, "schedules", "b", []byte("2")))
	require.NoError(t, b.HSet(ctx, "schedules", "a", []byte("3")))

	all, err := b.HGetAll(ctx, "schedules")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("3"), "b": []byte("2")}, all)

	require.NoError(t, b.HDel(ctx, "schedules", "a"))
	all, err = b.HGetAll(ctx, "schedules")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testHashSetIf(t *testing.T, b broker.Broker) {
	ctx := context.Background()

	ok, err := b.HSetIf(ctx, "schedules", "a", nil, []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Repeating a write that landed reports success.
	ok, err = b.HSetIf(ctx, "schedules", "a", nil, []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.HSetIf(ctx, "schedules", "a", nil, []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok, "install over an existing field")

	ok, err = b.HSetIf(ctx, "schedules", "a", []byte("stale"), []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok, "stale compare value")

	ok, err = b.HSetIf(ctx, "schedules", "a", []byte("1"), []byte("2"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.HDel(ctx, "schedules", "a"))
	ok, err = b.HSetIf(ctx, "schedules", "a", []byte("2"), []byte("3"))
	require.NoError(t, err)
	assert.False(t, ok, "removed field must stay removed")

	all, err := b.HGetAll(ctx, "schedules")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testLocks(t *testing.T, b broker.Broker) {
	ctx := context.Background()
	ttl := time.Minute

	ok, err := b.AcquireLock(ctx, "leader", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.AcquireLock(ctx, "leader", "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "lock is exclusive")

	ok, err = b.AcquireLock(ctx, "leader", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "re-acquire by the holder extends")

	ok, err = b.RenewLock(ctx, "leader", "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.RenewLock(ctx, "leader", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.ReleaseLock(ctx, "leader", "b"))
	ok, err = b.AcquireLock(ctx, "leader", "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-holder is ignored")

	require.NoError(t, b.ReleaseLock(ctx, "leader", "a"))
	ok, err = b.AcquireLock(ctx, "leader", "b", ttl)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testPubSub(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, b.Publish(ctx, "events", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
