package broker

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/backoff"
)

// IsTransport reports whether err is a transient broker failure.
func IsTransport(err error) bool {
	return errors.Is(err, tempo.ErrTransport)
}

// retrying decorates a Broker so transport errors are retried with backoff.
type retrying struct {
	Broker
	strategy backoff.Strategy
	attempts int
}

// WithRetry returns a Broker that retries operations failing with
// tempo.ErrTransport up to attempts times in total, sleeping per strategy
// between tries. Other errors, including ErrEmpty and ErrMiss, are returned
// unchanged. A nil strategy uses backoff.TransportStrategy.
func WithRetry(b Broker, strategy backoff.Strategy, attempts int) Broker {
	if strategy == nil {
		strategy = backoff.TransportStrategy()
	}
	return &retrying{Broker: b, strategy: strategy, attempts: attempts}
}

func (r *retrying) do(ctx context.Context, fn func(context.Context) error) error {
	return backoff.Retry(ctx, r.strategy, r.attempts, IsTransport, fn)
}

func (r *retrying) Push(ctx context.Context, queue, ref string, payload []byte, notBefore time.Time) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.Broker.Push(ctx, queue, ref, payload, notBefore)
	})
}

func (r *retrying) Pop(ctx context.Context, queues []string, timeout, visibility time.Duration) (*Message, error) {
	var msg *Message
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = r.Broker.Pop(ctx, queues, timeout, visibility)
		return err
	})
	return msg, err
}

func (r *retrying) Ack(ctx context.Context, ref string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.Ack(ctx, ref) })
}

func (r *retrying) Retry(ctx context.Context, ref string, payload []byte, at time.Time) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.Retry(ctx, ref, payload, at) })
}

func (r *retrying) Bury(ctx context.Context, ref string, payload []byte) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.Bury(ctx, ref, payload) })
}

func (r *retrying) Promote(ctx context.Context, now time.Time, limit int) (int, error) {
	var n int
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.Broker.Promote(ctx, now, limit)
		return err
	})
	return n, err
}

func (r *retrying) Reclaim(ctx context.Context, now time.Time, limit int) (int, error) {
	var n int
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.Broker.Reclaim(ctx, now, limit)
		return err
	})
	return n, err
}

func (r *retrying) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.SetEX(ctx, key, value, ttl) })
}

func (r *retrying) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = r.Broker.SetNX(ctx, key, value, ttl)
		return err
	})
	return ok, err
}

func (r *retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		v, err = r.Broker.Get(ctx, key)
		return err
	})
	return v, err
}

func (r *retrying) Del(ctx context.Context, keys ...string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.Del(ctx, keys...) })
}

func (r *retrying) HSet(ctx context.Context, key, field string, value []byte) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.HSet(ctx, key, field, value) })
}

// HSetIf is safe to repeat: a write that landed before a lost reply
// reports true on the retry.
func (r *retrying) HSetIf(ctx context.Context, key, field string, old, value []byte) (bool, error) {
	var ok bool
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = r.Broker.HSetIf(ctx, key, field, old, value)
		return err
	})
	return ok, err
}

func (r *retrying) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	var m map[string][]byte
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		m, err = r.Broker.HGetAll(ctx, key)
		return err
	})
	return m, err
}

func (r *retrying) HDel(ctx context.Context, key string, fields ...string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.HDel(ctx, key, fields...) })
}

func (r *retrying) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	var ok bool
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = r.Broker.AcquireLock(ctx, name, owner, ttl)
		return err
	})
	return ok, err
}

// RenewLock is not retried: a renewal that keeps failing must surface as a
// lost lease within one heartbeat rather than be stretched by backoff.
func (r *retrying) RenewLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return r.Broker.RenewLock(ctx, name, owner, ttl)
}

func (r *retrying) ReleaseLock(ctx context.Context, name, owner string) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.ReleaseLock(ctx, name, owner) })
}

func (r *retrying) Publish(ctx context.Context, channel string, msg []byte) error {
	return r.do(ctx, func(ctx context.Context) error { return r.Broker.Publish(ctx, channel, msg) })
}
