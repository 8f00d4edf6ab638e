package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
)

// DefaultLeaderTTL is the lifetime of an unrenewed leadership lock.
const DefaultLeaderTTL = 15 * time.Second

// Emitter receives leadership transitions. ext.Registry satisfies it.
type Emitter interface {
	EmitLeadershipChanged(ctx context.Context, owner string, leader bool)
}

// Elector campaigns for a named broker lock.
type Elector struct {
	locker  broker.Locker
	name    string
	owner   string
	ttl     time.Duration
	logger  *slog.Logger
	emitter Emitter
	now     func() time.Time

	mu         sync.Mutex
	leader     bool
	leaseUntil time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ElectorOption configures an Elector.
type ElectorOption func(*Elector)

// WithLockName sets the lock name. Defaults to "leader".
func WithLockName(name string) ElectorOption {
	return func(e *Elector) { e.name = name }
}

// WithTTL sets the lock TTL. Renewal runs every TTL/3.
func WithTTL(d time.Duration) ElectorOption {
	return func(e *Elector) { e.ttl = d }
}

// WithOwner sets the owner token. Defaults to a random UUID.
func WithOwner(owner string) ElectorOption {
	return func(e *Elector) { e.owner = owner }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ElectorOption {
	return func(e *Elector) { e.logger = l }
}

// WithEmitter sets the receiver of leadership transitions.
func WithEmitter(em Emitter) ElectorOption {
	return func(e *Elector) { e.emitter = em }
}

// WithClock overrides the time source used for the local lease.
func WithClock(now func() time.Time) ElectorOption {
	return func(e *Elector) { e.now = now }
}

// NewElector creates an Elector over locker.
func NewElector(locker broker.Locker, opts ...ElectorOption) *Elector {
	e := &Elector{
		locker: locker,
		name:   "leader",
		owner:  uuid.NewString(),
		ttl:    DefaultLeaderTTL,
		logger: slog.Default(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Owner returns this elector's owner token.
func (e *Elector) Owner() string { return e.owner }

// IsLeader reports whether this elector holds leadership right now. It
// turns false as soon as the local lease passes, whether or not the broker
// lock has expired yet.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader && e.now().Before(e.leaseUntil)
}

// Campaign runs one election step: renew when leader, acquire otherwise.
// It reports whether this elector is leader afterwards. On a broker error
// the error is returned and leadership survives only until the local lease
// passes.
func (e *Elector) Campaign(ctx context.Context) (bool, error) {
	start := e.now()

	e.mu.Lock()
	wasLeader := e.leader && start.Before(e.leaseUntil)
	e.mu.Unlock()

	var (
		held bool
		err  error
	)
	if wasLeader {
		held, err = e.locker.RenewLock(ctx, e.name, e.owner, e.ttl)
	} else {
		held, err = e.locker.AcquireLock(ctx, e.name, e.owner, e.ttl)
	}
	if err != nil {
		if !e.IsLeader() {
			e.stepDown(ctx)
		}
		return e.IsLeader(), fmt.Errorf("cluster: campaign %s: %w", e.name, err)
	}

	if !held {
		if wasLeader {
			e.logger.Info("leadership relinquished",
				slog.String("lock", e.name),
				slog.String("reason", tempo.ErrLockLost.Error()),
			)
		}
		e.stepDown(ctx)
		return false, nil
	}

	e.mu.Lock()
	// Measured from before the call, so the lease never outlives the lock.
	e.leaseUntil = start.Add(e.ttl)
	changed := !e.leader
	e.leader = true
	e.mu.Unlock()

	if changed {
		e.logger.Info("acquired leadership", slog.String("lock", e.name), slog.String("owner", e.owner))
		e.emit(ctx, true)
	}
	return true, nil
}

// stepDown clears leadership and emits the transition if there was one.
func (e *Elector) stepDown(ctx context.Context) {
	e.mu.Lock()
	changed := e.leader
	e.leader = false
	e.leaseUntil = time.Time{}
	e.mu.Unlock()

	if changed {
		e.emit(ctx, false)
	}
}

func (e *Elector) emit(ctx context.Context, leader bool) {
	if e.emitter != nil {
		e.emitter.EmitLeadershipChanged(ctx, e.owner, leader)
	}
}

// Resign releases the lock if held.
func (e *Elector) Resign(ctx context.Context) error {
	wasLeader := e.IsLeader()
	e.stepDown(ctx)
	if !wasLeader {
		return nil
	}
	if err := e.locker.ReleaseLock(ctx, e.name, e.owner); err != nil {
		return fmt.Errorf("cluster: resign %s: %w", e.name, err)
	}
	e.logger.Info("resigned leadership", slog.String("lock", e.name))
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start campaigns immediately and then every TTL/3 until Stop.
func (e *Elector) Start(ctx context.Context) error {
	if _, err := e.Campaign(ctx); err != nil {
		e.logger.Warn("leader campaign error", slog.String("error", err.Error()))
	}
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop ends the campaign loop and resigns.
func (e *Elector) Stop(ctx context.Context) error {
	close(e.stopCh)
	e.wg.Wait()
	return e.Resign(ctx)
}

func (e *Elector) loop() {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval := e.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.Campaign(ctx); err != nil {
				e.logger.Warn("leader campaign error", slog.String("error", err.Error()))
			}
		}
	}
}
