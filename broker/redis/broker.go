// Package redis implements broker.Broker on Redis. Pending queues are Lists,
// the scheduled, in-flight and dead states are Sorted Sets scored by unix
// milliseconds, and every state transition runs as a Lua script.
//
// Usage:
//
//	b, err := redis.Connect(ctx, "rediss://cache.internal:6380/0", broker.TLSPolicy{})
//	if err != nil { ... }
//	defer b.Close()
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/backoff"
	"github.com/xraph/tempo/broker"
)

// Compile-time interface check.
var _ broker.Broker = (*Broker)(nil)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "tempo:"

// Option configures the Broker.
type Option func(*Broker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithPrefix overrides the key prefix.
func WithPrefix(p string) Option {
	return func(b *Broker) { b.prefix = p }
}

// WithPollInterval sets how often a blocked Pop re-checks the queues when
// no notification arrives.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) { b.pollInterval = d }
}

// WithConnectAttempts sets how many pings Connect tries before giving up.
func WithConnectAttempts(n int) Option {
	return func(b *Broker) { b.connectAttempts = n }
}

// Broker implements broker.Broker backed by Redis.
type Broker struct {
	client goredis.UniversalClient
	owns   bool
	logger *slog.Logger

	prefix          string
	pollInterval    time.Duration
	connectAttempts int

	notifyOnce sync.Once
	notifyMu   sync.Mutex
	wake       chan struct{}
	pubsub     *goredis.PubSub
}

// New wraps an existing client. The caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Broker {
	b := &Broker{
		client:          client,
		logger:          slog.Default(),
		prefix:          DefaultPrefix,
		pollInterval:    500 * time.Millisecond,
		connectAttempts: 5,
		wake:            make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect dials the broker at url ("redis://" or "rediss://") and pings it,
// retrying transient failures. Failure wraps tempo.ErrConnection.
//
// When policy disables certificate verification a single warning is logged
// here; no operation logs it again.
func Connect(ctx context.Context, url string, policy broker.TLSPolicy, opts ...Option) (*Broker, error) {
	ro, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %w", tempo.ErrConnection, err)
	}

	b := New(nil, opts...)

	if policy.Enabled && ro.TLSConfig == nil {
		host, _, splitErr := net.SplitHostPort(ro.Addr)
		if splitErr != nil {
			host = ro.Addr
		}
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	if policy.InsecureSkipVerify {
		if ro.TLSConfig != nil {
			ro.TLSConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-in
			b.logger.Warn("broker TLS certificate verification disabled",
				slog.String("addr", ro.Addr),
			)
		} else {
			b.logger.Debug("insecure TLS requested but connection is not using TLS",
				slog.String("addr", ro.Addr),
			)
		}
	}

	client := goredis.NewClient(ro)
	b.client = client
	b.owns = true

	err = backoff.Retry(ctx, backoff.TransportStrategy(), b.connectAttempts, broker.IsTransport, b.Ping)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %w", tempo.ErrConnection, ro.Addr, err)
	}

	b.logger.Info("broker connected",
		slog.String("addr", ro.Addr),
		slog.Bool("tls", ro.TLSConfig != nil),
	)
	return b, nil
}

// Client returns the underlying Redis client.
func (b *Broker) Client() goredis.UniversalClient { return b.client }

// Ping verifies the Redis connection is alive.
func (b *Broker) Ping(ctx context.Context) error {
	return wrap("ping", b.client.Ping(ctx).Err())
}

// Close stops the notification subscription and, when the broker dialled
// the connection itself, closes the client.
func (b *Broker) Close() error {
	b.notifyMu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.notifyMu.Unlock()

	if ps != nil {
		_ = ps.Close()
	}
	if b.owns {
		return b.client.Close()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────

// transientReplies are server replies that clear up on their own.
var transientReplies = []string{"LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MASTERDOWN", "BUSY"}

// isTransient classifies an error from the client. Server replies are data
// errors unless they signal a temporary server state; anything else
// (dial, I/O, pool) is transport.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rerr goredis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		for _, p := range transientReplies {
			if strings.HasPrefix(msg, p) {
				return true
			}
		}
		return false
	}
	return true
}

// wrap prefixes err with the operation and marks transient errors with
// tempo.ErrTransport.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("tempo/redis: %s: %w: %w", op, tempo.ErrTransport, err)
	}
	return fmt.Errorf("tempo/redis: %s: %w", op, err)
}

// ──────────────────────────────────────────────────
// Notifications
// ──────────────────────────────────────────────────

// startNotify subscribes once to the notify channel so blocked Pops wake as
// soon as any process makes a reference pending.
func (b *Broker) startNotify(ctx context.Context) {
	b.notifyOnce.Do(func() {
		ps := b.client.Subscribe(context.WithoutCancel(ctx), b.notifyChannel())

		b.notifyMu.Lock()
		b.pubsub = ps
		b.notifyMu.Unlock()

		go func() {
			for range ps.Channel() {
				b.broadcast()
			}
		}()
	})
}

func (b *Broker) broadcast() {
	b.notifyMu.Lock()
	close(b.wake)
	b.wake = make(chan struct{})
	b.notifyMu.Unlock()
}

func (b *Broker) wakeCh() <-chan struct{} {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	return b.wake
}
