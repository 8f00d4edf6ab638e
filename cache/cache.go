// Package cache memoizes job results in the broker's key-value store.
//
// A result is keyed by the job's fingerprint: the SHA-256 of its kind and
// canonical arguments. Entries expire through the broker TTL; nothing is
// swept. Concurrent misses for the same fingerprint each compute the value
// unless the cache was built with WithLock, which lets one caller compute
// while the others wait for its result.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/job"
)

// ComputeFunc produces the value for a missing entry.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is a result cache over a broker.KV.
type Cache struct {
	kv     broker.KV
	logger *slog.Logger
	prefix string

	locker   broker.Locker
	lockTTL  time.Duration
	pollWait time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the key prefix. Defaults to "cache:".
func WithPrefix(p string) Option {
	return func(c *Cache) { c.prefix = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithLock serializes computation per fingerprint with a broker lock held
// for at most ttl. Callers that lose the race poll for the winner's value.
func WithLock(l broker.Locker, ttl time.Duration) Option {
	return func(c *Cache) {
		c.locker = l
		c.lockTTL = ttl
	}
}

// New creates a Cache.
func New(kv broker.KV, opts ...Option) *Cache {
	c := &Cache{
		kv:       kv,
		logger:   slog.Default(),
		prefix:   "cache:",
		lockTTL:  30 * time.Second,
		pollWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint identifies a job invocation: hex SHA-256 over the kind and
// the canonical JSON of its arguments. Argument order matters; object key
// order and whitespace do not.
func Fingerprint(kind string, args job.Args) (string, error) {
	canon, err := args.Canonical()
	if err != nil {
		return "", fmt.Errorf("cache: fingerprint %s: %w", kind, err)
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) key(fp string) string { return c.prefix + fp }

// Get returns the cached value or tempo.ErrMiss.
func (c *Cache) Get(ctx context.Context, fp string) ([]byte, error) {
	return c.kv.Get(ctx, c.key(fp))
}

// Set stores value for ttl.
func (c *Cache) Set(ctx context.Context, fp string, value []byte, ttl time.Duration) error {
	return c.kv.SetEX(ctx, c.key(fp), value, ttl)
}

// Invalidate removes the entry.
func (c *Cache) Invalidate(ctx context.Context, fp string) error {
	return c.kv.Del(ctx, c.key(fp))
}

// GetOrCompute returns the cached value for fp, or runs fn, stores its
// result for ttl and returns it. hit reports whether the value came from
// the cache. Errors from fn are returned as-is and nothing is stored. A
// broker failure while reading or writing the cache is logged and the
// value computed anyway.
func (c *Cache) GetOrCompute(ctx context.Context, fp string, ttl time.Duration, fn ComputeFunc) (value []byte, hit bool, err error) {
	if v, ok := c.lookup(ctx, fp); ok {
		return v, true, nil
	}
	if c.locker == nil {
		v, err := c.compute(ctx, fp, ttl, fn)
		return v, false, err
	}
	return c.computeLocked(ctx, fp, ttl, fn)
}

func (c *Cache) lookup(ctx context.Context, fp string) ([]byte, bool) {
	v, err := c.Get(ctx, fp)
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, tempo.ErrMiss):
	default:
		c.logger.Warn("cache read failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
	}
	return nil, false
}

func (c *Cache) compute(ctx context.Context, fp string, ttl time.Duration, fn ComputeFunc) ([]byte, error) {
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, fp, v, ttl); err != nil {
		c.logger.Warn("cache write failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
	}
	return v, nil
}

// computeLocked lets one caller per fingerprint compute. The others poll
// until the value appears or the lock frees up (released, or expired after
// the lock TTL), whichever comes first.
func (c *Cache) computeLocked(ctx context.Context, fp string, ttl time.Duration, fn ComputeFunc) ([]byte, bool, error) {
	name := "cache:" + fp
	owner := uuid.NewString()

	ticker := time.NewTicker(c.pollWait)
	defer ticker.Stop()

	for {
		acquired, err := c.locker.AcquireLock(ctx, name, owner, c.lockTTL)
		if err != nil {
			c.logger.Warn("cache lock failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
			v, err := c.compute(ctx, fp, ttl, fn)
			return v, false, err
		}
		if acquired {
			defer func() {
				if err := c.locker.ReleaseLock(context.WithoutCancel(ctx), name, owner); err != nil {
					c.logger.Warn("cache unlock failed", slog.String("fingerprint", fp), slog.String("error", err.Error()))
				}
			}()
			// The previous holder may have stored the value just before we got the lock.
			if v, ok := c.lookup(ctx, fp); ok {
				return v, true, nil
			}
			v, err := c.compute(ctx, fp, ttl, fn)
			return v, false, err
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
		}
		if v, ok := c.lookup(ctx, fp); ok {
			return v, true, nil
		}
	}
}
