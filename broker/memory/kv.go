package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/xraph/tempo"
)

// ──────────────────────────────────────────────────
// KV
// ──────────────────────────────────────────────────

// getLocked returns the live value under key, dropping it if expired.
func (b *Broker) getLocked(key string) (value, bool) {
	v, ok := b.values[key]
	if !ok {
		return value{}, false
	}
	if !v.expires.IsZero() && !b.now().Before(v.expires) {
		delete(b.values, key)
		return value{}, false
	}
	return v, true
}

func (b *Broker) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.now().Add(ttl)
}

// SetEX stores a value with a TTL.
func (b *Broker) SetEX(_ context.Context, key string, val []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[key] = value{data: clone(val), expires: b.expiry(ttl)}
	return nil
}

// SetNX stores a value only if the key is absent.
func (b *Broker) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.getLocked(key); ok {
		return false, nil
	}
	b.values[key] = value{data: clone(val), expires: b.expiry(ttl)}
	return true, nil
}

// Get returns a live value or tempo.ErrMiss.
func (b *Broker) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.getLocked(key)
	if !ok {
		return nil, tempo.ErrMiss
	}
	return clone(v.data), nil
}

// Del removes keys.
func (b *Broker) Del(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.values, k)
		delete(b.hashes, k)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Hash
// ──────────────────────────────────────────────────

// HSet sets one field.
func (b *Broker) HSet(_ context.Context, key, field string, val []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		b.hashes[key] = h
	}
	h[field] = clone(val)
	return nil
}

// HSetIf compares and sets one field.
func (b *Broker) HSetIf(_ context.Context, key, field string, old, val []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		b.hashes[key] = h
	}
	cur, exists := h[field]
	switch {
	case exists && bytes.Equal(cur, val):
		return true, nil
	case old == nil && exists:
		return false, nil
	case old != nil && (!exists || !bytes.Equal(cur, old)):
		return false, nil
	}
	h[field] = clone(val)
	return true, nil
}

// HGetAll returns a copy of every field. A missing key yields an empty map.
func (b *Broker) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]byte, len(b.hashes[key]))
	for f, v := range b.hashes[key] {
		out[f] = clone(v)
	}
	return out, nil
}

// HDel removes fields.
func (b *Broker) HDel(_ context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Locker
// ──────────────────────────────────────────────────

func (b *Broker) lockLocked(name string) (lock, bool) {
	l, ok := b.locks[name]
	if !ok {
		return lock{}, false
	}
	if !b.now().Before(l.expires) {
		delete(b.locks, name)
		return lock{}, false
	}
	return l, true
}

// AcquireLock takes a free lock or extends one owner already holds.
func (b *Broker) AcquireLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, held := b.lockLocked(name); held && l.owner != owner {
		return false, nil
	}
	b.locks[name] = lock{owner: owner, expires: b.now().Add(ttl)}
	return true, nil
}

// RenewLock extends a lock owner still holds.
func (b *Broker) RenewLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, held := b.lockLocked(name)
	if !held || l.owner != owner {
		return false, nil
	}
	b.locks[name] = lock{owner: owner, expires: b.now().Add(ttl)}
	return true, nil
}

// ReleaseLock frees a lock owner holds.
func (b *Broker) ReleaseLock(_ context.Context, name, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, held := b.lockLocked(name); held && l.owner == owner {
		delete(b.locks, name)
	}
	return nil
}

// ──────────────────────────────────────────────────
// PubSub
// ──────────────────────────────────────────────────

// Publish delivers msg to current subscribers. Slow subscribers drop
// messages rather than block the publisher.
func (b *Broker) Publish(_ context.Context, channel string, msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[channel] {
		select {
		case ch <- clone(msg):
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber on channel.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, tempo.ErrTransport
	}

	ch := make(chan []byte, 64)
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.subs[channel] = set
	}
	set[ch] = struct{}{}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, still := b.subs[channel][ch]; still {
				delete(b.subs[channel], ch)
				close(ch)
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}
