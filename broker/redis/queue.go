package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
)

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func fromScore(s float64) time.Time { return time.UnixMilli(int64(s)).UTC() }

// Push stores the payload and queues the reference.
func (b *Broker) Push(ctx context.Context, queue, ref string, payload []byte, notBefore time.Time) error {
	mode, target := "now", b.queueKey(queue)
	if notBefore.After(time.Now()) {
		mode, target = "later", b.scheduledKey()
	}
	err := pushScript.Run(ctx, b.client,
		[]string{b.msgKey(ref), target},
		payload, queue, mode, score(notBefore), ref, b.notifyChannel(),
	).Err()
	return wrap("push", err)
}

// Pop takes the head of the first non-empty queue, waking on notifications
// and re-polling every pollInterval until timeout.
func (b *Broker) Pop(ctx context.Context, queues []string, timeout, visibility time.Duration) (*broker.Message, error) {
	b.startNotify(ctx)

	keys := make([]string, 0, len(queues)+1)
	keys = append(keys, b.inflightKey())
	for _, q := range queues {
		keys = append(keys, b.queueKey(q))
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		wake := b.wakeCh()

		msg, err := b.tryPop(ctx, keys, visibility)
		if err != nil || msg != nil {
			return msg, err
		}

		poll := time.NewTimer(b.pollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			poll.Stop()
			return nil, tempo.ErrEmpty
		case <-wake:
		case <-poll.C:
		}
		poll.Stop()
	}
}

func (b *Broker) tryPop(ctx context.Context, keys []string, visibility time.Duration) (*broker.Message, error) {
	until := time.Now().Add(visibility)
	res, err := popScript.Run(ctx, b.client, keys, score(until), b.prefix+"msg:").StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("pop", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("tempo/redis: pop: unexpected reply of %d elements", len(res))
	}
	return &broker.Message{
		Ref:     res[0],
		Payload: []byte(res[1]),
		Queue:   res[2],
		At:      fromScore(score(until)),
	}, nil
}

// Ack removes an in-flight reference and its payload.
func (b *Broker) Ack(ctx context.Context, ref string) error {
	n, err := ackScript.Run(ctx, b.client, []string{b.inflightKey(), b.msgKey(ref)}, ref).Int()
	if err != nil {
		return wrap("ack", err)
	}
	if n == 0 {
		return tempo.ErrJobNotFound
	}
	return nil
}

// Retry reschedules an in-flight reference.
func (b *Broker) Retry(ctx context.Context, ref string, payload []byte, at time.Time) error {
	return b.move(ctx, "retry", ref, payload, b.scheduledKey(), at)
}

// Bury moves an in-flight reference to the dead set.
func (b *Broker) Bury(ctx context.Context, ref string, payload []byte) error {
	return b.move(ctx, "bury", ref, payload, b.deadKey(), time.Now())
}

func (b *Broker) move(ctx context.Context, op, ref string, payload []byte, dest string, at time.Time) error {
	n, err := moveScript.Run(ctx, b.client,
		[]string{b.inflightKey(), b.msgKey(ref), dest},
		ref, payload, score(at),
	).Int()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return tempo.ErrJobNotFound
	}
	return nil
}

// Promote moves due scheduled references to the tail of their queue.
func (b *Broker) Promote(ctx context.Context, now time.Time, limit int) (int, error) {
	n, err := drainScript.Run(ctx, b.client, []string{b.scheduledKey()},
		score(now), limit, b.prefix, "RPUSH", b.notifyChannel(),
	).Int()
	return n, wrap("promote", err)
}

// Reclaim moves expired in-flight references to the head of their queue.
func (b *Broker) Reclaim(ctx context.Context, now time.Time, limit int) (int, error) {
	n, err := drainScript.Run(ctx, b.client, []string{b.inflightKey()},
		score(now), limit, b.prefix, "LPUSH", b.notifyChannel(),
	).Int()
	return n, wrap("reclaim", err)
}

// Dead lists dead messages, most recent first.
func (b *Broker) Dead(ctx context.Context, offset, limit int) ([]*broker.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	zs, err := b.client.ZRevRangeWithScores(ctx, b.deadKey(), int64(offset), stop).Result()
	if err != nil {
		return nil, wrap("dead list", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(zs))
	for i, z := range zs {
		ref, _ := z.Member.(string)
		cmds[i] = pipe.HMGet(ctx, b.msgKey(ref), "payload", "queue")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, wrap("dead list fetch", err)
	}

	out := make([]*broker.Message, 0, len(zs))
	for i, z := range zs {
		ref, _ := z.Member.(string)
		out = append(out, toMessage(ref, z.Score, cmds[i].Val()))
	}
	return out, nil
}

// DeadGet returns a dead message.
func (b *Broker) DeadGet(ctx context.Context, ref string) (*broker.Message, error) {
	s, err := b.client.ZScore(ctx, b.deadKey(), ref).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, tempo.ErrDeadNotFound
	}
	if err != nil {
		return nil, wrap("dead get", err)
	}
	vals, err := b.client.HMGet(ctx, b.msgKey(ref), "payload", "queue").Result()
	if err != nil {
		return nil, wrap("dead get fetch", err)
	}
	return toMessage(ref, s, vals), nil
}

func toMessage(ref string, s float64, vals []any) *broker.Message {
	m := &broker.Message{Ref: ref, At: fromScore(s)}
	if len(vals) == 2 {
		if p, ok := vals[0].(string); ok {
			m.Payload = []byte(p)
		}
		if q, ok := vals[1].(string); ok {
			m.Queue = q
		}
	}
	return m
}

// DeadDelete removes a dead message.
func (b *Broker) DeadDelete(ctx context.Context, ref string) error {
	n, err := deadDeleteScript.Run(ctx, b.client, []string{b.deadKey(), b.msgKey(ref)}, ref).Int()
	if err != nil {
		return wrap("dead delete", err)
	}
	if n == 0 {
		return tempo.ErrDeadNotFound
	}
	return nil
}

// DeadPurge removes every dead message.
func (b *Broker) DeadPurge(ctx context.Context) (int, error) {
	n, err := deadPurgeScript.Run(ctx, b.client, []string{b.deadKey()}, b.prefix).Int()
	return n, wrap("dead purge", err)
}

// Stats counts references per state.
func (b *Broker) Stats(ctx context.Context, queues []string) (*broker.Stats, error) {
	pipe := b.client.Pipeline()
	lens := make(map[string]*goredis.IntCmd, len(queues))
	for _, q := range queues {
		lens[q] = pipe.LLen(ctx, b.queueKey(q))
	}
	scheduled := pipe.ZCard(ctx, b.scheduledKey())
	inflight := pipe.ZCard(ctx, b.inflightKey())
	dead := pipe.ZCard(ctx, b.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("stats", err)
	}

	s := &broker.Stats{
		Pending:   make(map[string]int64, len(queues)),
		Scheduled: scheduled.Val(),
		InFlight:  inflight.Val(),
		Dead:      dead.Val(),
	}
	for q, cmd := range lens {
		s.Pending[q] = cmd.Val()
	}
	return s, nil
}

// ttlMillis formats a TTL for scripts that take milliseconds.
func ttlMillis(ttl time.Duration) string {
	return strconv.FormatInt(ttl.Milliseconds(), 10)
}
