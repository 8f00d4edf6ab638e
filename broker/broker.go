// Package broker defines the transport every tempo subsystem shares: durable
// queues, key-value with TTL, hashes, owner-checked locks and pub/sub.
//
// Each concern is its own small interface; the composite Broker embeds them
// all and is what the redis and memory backends implement. Subsystems accept
// the narrowest interface they need.
//
// All operations may fail with an error wrapping tempo.ErrTransport when the
// broker is unreachable. Such errors are transient: wrap a Broker with
// WithRetry to retry them with backoff at this boundary. ErrEmpty and ErrMiss
// are results, not failures, and are never retried.
package broker

import (
	"context"
	"time"
)

// Message is a job reference together with its serialized descriptor.
type Message struct {
	// Ref is the job reference (its ID string).
	Ref string

	// Queue is the priority queue the message belongs to.
	Queue string

	// Payload is the serialized job descriptor.
	Payload []byte

	// At is the state timestamp: the visibility deadline for in-flight
	// messages, the run-at time for scheduled ones, the time of death for
	// dead ones.
	At time.Time
}

// Stats is a point-in-time count of references per state.
type Stats struct {
	Pending   map[string]int64 `json:"pending"`
	Scheduled int64            `json:"scheduled"`
	InFlight  int64            `json:"in_flight"`
	Dead      int64            `json:"dead"`
}

// Queue holds job references. A reference belongs to exactly one of
// pending (per queue), in-flight, scheduled or dead at any time.
type Queue interface {
	// Push stores payload under ref and appends ref to the tail of queue,
	// or to the scheduled set when notBefore is in the future. Pushing a
	// ref the broker still holds is a no-op.
	Push(ctx context.Context, queue, ref string, payload []byte, notBefore time.Time) error

	// Pop takes the head of the first non-empty queue (in the order given)
	// and moves it to in-flight with a deadline of now+visibility. It
	// blocks up to timeout and returns tempo.ErrEmpty if nothing arrived.
	Pop(ctx context.Context, queues []string, timeout, visibility time.Duration) (*Message, error)

	// Ack removes an in-flight reference and its payload.
	Ack(ctx context.Context, ref string) error

	// Retry moves an in-flight reference to the scheduled set at the given
	// time, replacing its stored payload.
	Retry(ctx context.Context, ref string, payload []byte, at time.Time) error

	// Bury moves an in-flight reference to the dead set, replacing its
	// stored payload.
	Bury(ctx context.Context, ref string, payload []byte) error

	// Promote moves scheduled references due at or before now to the tail
	// of their queue. Each reference is claimed atomically, so concurrent
	// promoters never move the same reference twice.
	Promote(ctx context.Context, now time.Time, limit int) (int, error)

	// Reclaim moves in-flight references whose visibility deadline is at or
	// before now back to the head of their queue.
	Reclaim(ctx context.Context, now time.Time, limit int) (int, error)

	// Dead lists dead messages, most recent first.
	Dead(ctx context.Context, offset, limit int) ([]*Message, error)

	// DeadGet returns a single dead message or tempo.ErrDeadNotFound.
	DeadGet(ctx context.Context, ref string) (*Message, error)

	// DeadDelete removes a dead message or returns tempo.ErrDeadNotFound.
	DeadDelete(ctx context.Context, ref string) error

	// DeadPurge removes every dead message and reports how many there were.
	DeadPurge(ctx context.Context) (int, error)

	// Stats counts references per state for the given queues.
	Stats(ctx context.Context, queues []string) (*Stats, error)
}

// KV is a key-value store with expiry.
type KV interface {
	// SetEX stores value under key for ttl.
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value under key for ttl only if key does not exist and
	// reports whether it was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value under key or tempo.ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
}

// Hash is a map of fields stored under one key.
type Hash interface {
	HSet(ctx context.Context, key, field string, value []byte) error

	// HSetIf writes value only while the field still holds old, or is
	// absent when old is nil. It reports whether the field now holds
	// value, so a repeated call that already landed reports true.
	HSetIf(ctx context.Context, key, field string, old, value []byte) (bool, error)

	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error
}

// Locker provides owner-checked mutual exclusion with a TTL.
type Locker interface {
	// AcquireLock takes the named lock for owner if it is free. Acquiring a
	// lock the owner already holds extends it.
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// RenewLock extends the lock only while owner still holds it.
	RenewLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// ReleaseLock frees the lock only if owner holds it.
	ReleaseLock(ctx context.Context, name, owner string) error
}

// PubSub is fire-and-forget notification between processes.
type PubSub interface {
	Publish(ctx context.Context, channel string, msg []byte) error

	// Subscribe delivers messages published on channel until the returned
	// cancel func is called or ctx ends.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Broker is the composite interface implemented by every backend.
type Broker interface {
	Queue
	KV
	Hash
	Locker
	PubSub

	// Ping checks broker connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
