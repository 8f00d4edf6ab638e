package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tempo"
)

// ──────────────────────────────────────────────────
// KV
// ──────────────────────────────────────────────────

// SetEX stores a value with a TTL.
func (b *Broker) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrap("setex", b.client.Set(ctx, b.key(key), value, ttl).Err())
}

// SetNX stores a value only if the key is absent.
func (b *Broker) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.key(key), value, ttl).Result()
	return ok, wrap("setnx", err)
}

// Get returns a value or tempo.ErrMiss. Expiry is enforced by Redis.
func (b *Broker) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, tempo.ErrMiss
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return v, nil
}

// Del removes keys.
func (b *Broker) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	return wrap("del", b.client.Del(ctx, full...).Err())
}

// ──────────────────────────────────────────────────
// Hash
// ──────────────────────────────────────────────────

// HSet sets one field.
func (b *Broker) HSet(ctx context.Context, key, field string, value []byte) error {
	return wrap("hset", b.client.HSet(ctx, b.key(key), field, value).Err())
}

// HSetIf compares and sets one field in a single script.
func (b *Broker) HSetIf(ctx context.Context, key, field string, old, value []byte) (bool, error) {
	expect := "equal"
	if old == nil {
		expect = "absent"
	}
	n, err := hsetIfScript.Run(ctx, b.client, []string{b.key(key)}, field, old, value, expect).Int()
	if err != nil {
		return false, wrap("hsetif", err)
	}
	return n == 1, nil
}

// HGetAll returns every field. A missing key yields an empty map.
func (b *Broker) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	vals, err := b.client.HGetAll(ctx, b.key(key)).Result()
	if err != nil {
		return nil, wrap("hgetall", err)
	}
	out := make(map[string][]byte, len(vals))
	for f, v := range vals {
		out[f] = []byte(v)
	}
	return out, nil
}

// HDel removes fields.
func (b *Broker) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return wrap("hdel", b.client.HDel(ctx, b.key(key), fields...).Err())
}

// ──────────────────────────────────────────────────
// Locker
// ──────────────────────────────────────────────────

// AcquireLock takes a free lock or extends one owner already holds.
func (b *Broker) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, b.client, []string{b.lockKey(name)}, owner, ttlMillis(ttl)).Int()
	if err != nil {
		return false, wrap("acquire lock", err)
	}
	return n == 1, nil
}

// RenewLock extends a lock owner still holds.
func (b *Broker) RenewLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.client, []string{b.lockKey(name)}, owner, ttlMillis(ttl)).Int()
	if err != nil {
		return false, wrap("renew lock", err)
	}
	return n == 1, nil
}

// ReleaseLock frees a lock owner holds.
func (b *Broker) ReleaseLock(ctx context.Context, name, owner string) error {
	return wrap("release lock", releaseScript.Run(ctx, b.client, []string{b.lockKey(name)}, owner).Err())
}

// ──────────────────────────────────────────────────
// PubSub
// ──────────────────────────────────────────────────

// Publish sends msg on the namespaced channel.
func (b *Broker) Publish(ctx context.Context, channel string, msg []byte) error {
	return wrap("publish", b.client.Publish(ctx, b.key(channel), msg).Err())
}

// Subscribe listens on the namespaced channel.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps := b.client.Subscribe(ctx, b.key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, wrap("subscribe", err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
