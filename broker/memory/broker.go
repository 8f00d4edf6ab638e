// Package memory implements broker.Broker in process memory. It is safe for
// concurrent use and intended for tests and single-process development.
// Expiry of keys and locks is lazy and follows the broker's clock, which
// tests may replace with WithClock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
)

var _ broker.Broker = (*Broker)(nil)

type message struct {
	queue   string
	payload []byte
}

type timed struct {
	ref string
	at  time.Time
}

type value struct {
	data    []byte
	expires time.Time
}

type lock struct {
	owner   string
	expires time.Time
}

// Option configures the Broker.
type Option func(*Broker)

// WithClock replaces the clock used for key and lock expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// Broker is an in-memory broker.Broker.
type Broker struct {
	mu sync.Mutex

	messages  map[string]*message
	pending   map[string][]string
	inflight  map[string]time.Time
	scheduled map[string]time.Time
	dead      map[string]time.Time

	values map[string]value
	hashes map[string]map[string][]byte
	locks  map[string]lock

	subs map[string]map[chan []byte]struct{}

	// wake is closed and replaced whenever a reference becomes pending.
	wake chan struct{}

	now    func() time.Time
	closed bool
}

// New returns an empty Broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		messages:  make(map[string]*message),
		pending:   make(map[string][]string),
		inflight:  make(map[string]time.Time),
		scheduled: make(map[string]time.Time),
		dead:      make(map[string]time.Time),
		values:    make(map[string]value),
		hashes:    make(map[string]map[string][]byte),
		locks:     make(map[string]lock),
		subs:      make(map[string]map[chan []byte]struct{}),
		wake:      make(chan struct{}),
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Ping always succeeds until the broker is closed.
func (b *Broker) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return tempo.ErrTransport
	}
	return nil
}

// Close closes every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan []byte]struct{})
	return nil
}

// notifyLocked wakes every blocked Pop. Caller holds mu.
func (b *Broker) notifyLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func clone(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

// Push stores the payload and queues the reference.
func (b *Broker) Push(_ context.Context, queue, ref string, payload []byte, notBefore time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.messages[ref]; ok {
		return nil
	}
	b.messages[ref] = &message{queue: queue, payload: clone(payload)}
	if notBefore.After(b.now()) {
		b.scheduled[ref] = notBefore
		return nil
	}
	b.pending[queue] = append(b.pending[queue], ref)
	b.notifyLocked()
	return nil
}

// Pop blocks until a reference is pending in one of queues or timeout passes.
func (b *Broker) Pop(ctx context.Context, queues []string, timeout, visibility time.Duration) (*broker.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		msg := b.popLocked(queues, visibility)
		wake := b.wake
		b.mu.Unlock()

		if msg != nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, tempo.ErrEmpty
		case <-wake:
		}
	}
}

func (b *Broker) popLocked(queues []string, visibility time.Duration) *broker.Message {
	for _, q := range queues {
		refs := b.pending[q]
		if len(refs) == 0 {
			continue
		}
		ref := refs[0]
		b.pending[q] = refs[1:]

		deadline := b.now().Add(visibility)
		b.inflight[ref] = deadline
		m := b.messages[ref]
		return &broker.Message{Ref: ref, Queue: q, Payload: clone(m.payload), At: deadline}
	}
	return nil
}

// Ack removes an in-flight reference.
func (b *Broker) Ack(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inflight[ref]; !ok {
		return tempo.ErrJobNotFound
	}
	delete(b.inflight, ref)
	delete(b.messages, ref)
	return nil
}

// Retry reschedules an in-flight reference.
func (b *Broker) Retry(_ context.Context, ref string, payload []byte, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inflight[ref]; !ok {
		return tempo.ErrJobNotFound
	}
	delete(b.inflight, ref)
	b.messages[ref].payload = clone(payload)
	b.scheduled[ref] = at
	return nil
}

// Bury moves an in-flight reference to the dead set.
func (b *Broker) Bury(_ context.Context, ref string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inflight[ref]; !ok {
		return tempo.ErrJobNotFound
	}
	delete(b.inflight, ref)
	b.messages[ref].payload = clone(payload)
	b.dead[ref] = b.now()
	return nil
}

// due returns references in set whose time is at or before now, oldest
// first, at most limit of them.
func due(set map[string]time.Time, now time.Time, limit int) []string {
	var items []timed
	for ref, at := range set {
		if !at.After(now) {
			items = append(items, timed{ref: ref, at: at})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].ref < items[j].ref
		}
		return items[i].at.Before(items[j].at)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	refs := make([]string, len(items))
	for i, it := range items {
		refs[i] = it.ref
	}
	return refs
}

// Promote moves due scheduled references to the tail of their queue.
func (b *Broker) Promote(_ context.Context, now time.Time, limit int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	refs := due(b.scheduled, now, limit)
	for _, ref := range refs {
		delete(b.scheduled, ref)
		q := b.messages[ref].queue
		b.pending[q] = append(b.pending[q], ref)
	}
	if len(refs) > 0 {
		b.notifyLocked()
	}
	return len(refs), nil
}

// Reclaim moves expired in-flight references to the head of their queue.
func (b *Broker) Reclaim(_ context.Context, now time.Time, limit int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	refs := due(b.inflight, now, limit)
	for _, ref := range refs {
		delete(b.inflight, ref)
		q := b.messages[ref].queue
		b.pending[q] = append([]string{ref}, b.pending[q]...)
	}
	if len(refs) > 0 {
		b.notifyLocked()
	}
	return len(refs), nil
}

// Dead lists dead messages, most recent first.
func (b *Broker) Dead(_ context.Context, offset, limit int) ([]*broker.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]timed, 0, len(b.dead))
	for ref, at := range b.dead {
		items = append(items, timed{ref: ref, at: at})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].ref > items[j].ref
		}
		return items[i].at.After(items[j].at)
	})

	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	out := make([]*broker.Message, len(items))
	for i, it := range items {
		m := b.messages[it.ref]
		out[i] = &broker.Message{Ref: it.ref, Queue: m.queue, Payload: clone(m.payload), At: it.at}
	}
	return out, nil
}

// DeadGet returns a dead message.
func (b *Broker) DeadGet(_ context.Context, ref string) (*broker.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	at, ok := b.dead[ref]
	if !ok {
		return nil, tempo.ErrDeadNotFound
	}
	m := b.messages[ref]
	return &broker.Message{Ref: ref, Queue: m.queue, Payload: clone(m.payload), At: at}, nil
}

// DeadDelete removes a dead message.
func (b *Broker) DeadDelete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.dead[ref]; !ok {
		return tempo.ErrDeadNotFound
	}
	delete(b.dead, ref)
	delete(b.messages, ref)
	return nil
}

// DeadPurge removes every dead message.
func (b *Broker) DeadPurge(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.dead)
	for ref := range b.dead {
		delete(b.messages, ref)
	}
	b.dead = make(map[string]time.Time)
	return n, nil
}

// Stats counts references per state.
func (b *Broker) Stats(_ context.Context, queues []string) (*broker.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &broker.Stats{
		Pending:   make(map[string]int64, len(queues)),
		Scheduled: int64(len(b.scheduled)),
		InFlight:  int64(len(b.inflight)),
		Dead:      int64(len(b.dead)),
	}
	for _, q := range queues {
		s.Pending[q] = int64(len(b.pending[q]))
	}
	return s, nil
}
