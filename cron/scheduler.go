package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/id"
	"github.com/xraph/tempo/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, j *job.Job) error

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// Leader reports whether this process may fire schedules.
// *cluster.Elector satisfies it.
type Leader interface {
	IsLeader() bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClaimTTL sets how long an occurrence claim is kept.
func WithClaimTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.claimTTL = d }
}

// WithEmitter sets the receiver of fire events.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler fires due entries on a tick loop. Only the leader fires, and
// every occurrence is claimed in the broker first, so an occurrence is
// enqueued at most once even across a leadership handover.
type Scheduler struct {
	registry *Registry
	claims   broker.KV
	leader   Leader
	enqueue  EnqueueFunc
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time

	tickInterval time.Duration
	claimTTL     time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(registry *Registry, claims broker.KV, leader Leader, enqueue EnqueueFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:     registry,
		claims:       claims,
		leader:       leader,
		enqueue:      enqueue,
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		claimTTL:     48 * time.Hour,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. A change notification from any process's
// Reconcile triggers an immediate tick.
func (s *Scheduler) Start(ctx context.Context) error {
	changed, cancel, err := s.registry.Subscribe(ctx)
	if err != nil {
		s.logger.Warn("schedule change subscription failed; relying on ticks", slog.String("error", err.Error()))
		changed, cancel = nil, func() {}
	}

	s.wg.Add(1)
	go s.tickLoop(changed, cancel)
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(changed <-chan []byte, cancel func()) {
	defer s.wg.Done()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case _, ok := <-changed:
			if !ok {
				changed = nil
				continue
			}
		}
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Warn("cron tick error", slog.String("error", err.Error()))
		}
	}
}

// Tick fires every due enabled entry once and returns how many jobs were
// enqueued. Non-leaders do nothing.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.leader.IsLeader() {
		return 0, nil
	}

	entries, err := s.registry.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	fired := 0
	for _, entry := range entries {
		if !entry.Enabled || entry.NextRunAt.After(now) {
			continue
		}
		// Leadership may lapse mid-tick; stop firing at once.
		if !s.leader.IsLeader() {
			break
		}
		ok, err := s.fireEntry(ctx, entry, now)
		if err != nil {
			s.logger.Error("cron fire error",
				slog.String("cron_name", entry.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// fireEntry claims, enqueues and advances one due entry. It reports whether
// a job was enqueued by this call.
func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) (bool, error) {
	occurrence := entry.NextRunAt
	claimKey := "fired:" + entry.Name + ":" + strconv.FormatInt(occurrence.Unix(), 10)

	claimed, err := s.claims.SetNX(ctx, claimKey, []byte(now.Format(time.RFC3339Nano)), s.claimTTL)
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}

	var j *job.Job
	if claimed {
		j = entry.Template.Job(entry.Name)
		if err := s.enqueue(ctx, j); err != nil {
			// Give the occurrence back so the next tick retries it.
			if delErr := s.claims.Del(context.WithoutCancel(ctx), claimKey); delErr != nil {
				s.logger.Error("release occurrence claim error",
					slog.String("cron_name", entry.Name),
					slog.String("error", delErr.Error()),
				)
			}
			return false, fmt.Errorf("enqueue %s: %w", entry.Template.Kind, err)
		}
	}

	// Advance past now whether or not the claim was ours: another leader
	// already fired this occurrence.
	next, err := s.registry.Next(entry.Cadence, now)
	if err != nil {
		return claimed, fmt.Errorf("parse cadence %q: %w", entry.Cadence, err)
	}
	entry.NextRunAt = next
	if claimed {
		fired := occurrence
		entry.LastRunAt = &fired
	}
	// A concurrent reconcile or toggle wins over the advance; the claim
	// keeps this occurrence from firing twice on the next tick.
	switch err := s.registry.Save(ctx, entry); {
	case errors.Is(err, ErrEntryChanged):
		s.logger.Debug("cron entry changed while firing",
			slog.String("cron_name", entry.Name),
		)
	case err != nil:
		return claimed, err
	}

	if !claimed {
		return false, nil
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, j.ID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("job_kind", j.Kind),
		slog.String("job_id", j.ID.String()),
		slog.Time("occurrence", occurrence),
	)
	return true, nil
}
