package redis_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/broker/brokertest"
	"github.com/xraph/tempo/broker/redis"
)

func newBroker(t *testing.T) (*redis.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b := redis.New(client, redis.WithPollInterval(20*time.Millisecond))
	t.Cleanup(func() {
		_ = b.Close()
		_ = client.Close()
	})
	return b, mr
}

func TestConformance(t *testing.T) {
	brokertest.Run(t, func(t *testing.T) broker.Broker {
		b, _ := newBroker(t)
		return b
	})
}

func TestKeysArePrefixed(t *testing.T) {
	b, mr := newBroker(t)
	ctx := context.Background()

	if err := b.Push(ctx, "default", "job_1", []byte("x"), time.Time{}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.SetEX(ctx, "cache:fp", []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetEX: %v", err)
	}

	for _, key := range []string{"tempo:queue:default", "tempo:msg:job_1", "tempo:cache:fp"} {
		if !mr.Exists(key) {
			t.Errorf("missing key %s", key)
		}
	}
}

func TestTTLExpiry(t *testing.T) {
	b, mr := newBroker(t)
	ctx := context.Background()

	if err := b.SetEX(ctx, "cache:fp", []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetEX: %v", err)
	}
	mr.FastForward(61 * time.Second)

	if _, err := b.Get(ctx, "cache:fp"); !errors.Is(err, tempo.ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if ok, err := b.AcquireLock(ctx, "leader", "a", 5*time.Second); err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}
	mr.FastForward(6 * time.Second)

	if ok, err := b.AcquireLock(ctx, "leader", "b", 5*time.Second); err != nil || !ok {
		t.Fatalf("an expired lock must be free: %v %v", ok, err)
	}
}

func TestTransportErrorsAreMarked(t *testing.T) {
	b, mr := newBroker(t)
	mr.Close()

	if err := b.Ping(context.Background()); !errors.Is(err, tempo.ErrTransport) {
		t.Fatalf("Ping: expected ErrTransport, got %v", err)
	}
	if _, err := b.Get(context.Background(), "x"); !errors.Is(err, tempo.ErrTransport) {
		t.Fatalf("Get: expected ErrTransport, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := redis.Connect(context.Background(), "redis://"+mr.Addr()+"/0", broker.TLSPolicy{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer b.Close()

	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redis.Connect(ctx, "redis://"+addr, broker.TLSPolicy{}, redis.WithConnectAttempts(2)); !errors.Is(err, tempo.ErrConnection) {
		t.Fatalf("unreachable: expected ErrConnection, got %v", err)
	}
	if _, err := redis.Connect(ctx, "http://nope", broker.TLSPolicy{}); !errors.Is(err, tempo.ErrConnection) {
		t.Fatalf("bad scheme: expected ErrConnection, got %v", err)
	}
}

func TestInsecureTLSWarnsOnceAtConnect(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// Nothing listens with TLS here, so the connection itself fails; the
	// warning is emitted before dialling.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := redis.Connect(ctx, "rediss://127.0.0.1:1/0",
		broker.TLSPolicy{InsecureSkipVerify: true},
		redis.WithLogger(logger), redis.WithConnectAttempts(1))
	if err == nil {
		t.Fatal("expected the TLS dial to fail")
	}

	if n := strings.Count(buf.String(), "certificate verification disabled"); n != 1 {
		t.Fatalf("warning logged %d times, want 1", n)
	}
}

func TestRetryDecoratorRecoversFromOutage(t *testing.T) {
	b, mr := newBroker(t)
	rb := broker.WithRetry(b, nil, 20)
	ctx := context.Background()

	addr := mr.Addr()
	mr.Close()
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = mr.StartAddr(addr)
	}()

	if err := rb.SetEX(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetEX through outage: %v", err)
	}
	v, err := rb.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("Get = %q", v)
	}
}
