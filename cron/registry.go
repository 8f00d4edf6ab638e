package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/backoff"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/id"
)

// Broker keys used by the registry.
const (
	entriesKey    = "schedules"
	reconcileLock = "schedule:reconcile"

	// ChangedChannel carries a notification after Reconcile changes the
	// installed set.
	ChangedChannel = "schedule:changed"
)

// ErrEntryChanged reports that another writer replaced or removed an entry
// between its read and a Save.
var ErrEntryChanged = errors.New("cron: schedule entry changed concurrently")

// saveAttempts bounds how often a conflicting read-modify-write restarts.
const saveAttempts = 3

// Store is the broker surface the registry needs.
type Store interface {
	broker.Hash
	broker.Locker
	broker.PubSub
}

// Changes lists entry names touched by a Reconcile.
type Changes struct {
	Installed []string `json:"installed,omitempty"`
	Updated   []string `json:"updated,omitempty"`
	Removed   []string `json:"removed,omitempty"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Installed) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Registry owns the installed schedule entries.
type Registry struct {
	cfg    *ScheduleConfig
	store  Store
	loc    *time.Location
	logger *slog.Logger

	lockTTL      time.Duration
	lockAttempts int
	queues       map[string]struct{}

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLocation sets the zone cadences are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) RegistryOption {
	return func(r *Registry) { r.loc = loc }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithReconcileLock sets the reconcile lock TTL and how many times to try
// for it before giving up.
func WithReconcileLock(ttl time.Duration, attempts int) RegistryOption {
	return func(r *Registry) {
		r.lockTTL = ttl
		r.lockAttempts = attempts
	}
}

// WithQueues restricts entries to the named queues. Reconcile rejects a
// declaration that targets any other queue.
func WithQueues(queues ...string) RegistryOption {
	return func(r *Registry) {
		r.queues = make(map[string]struct{}, len(queues))
		for _, q := range queues {
			r.queues[q] = struct{}{}
		}
	}
}

// NewRegistry creates a Registry for the declared cfg. A nil cfg declares
// nothing.
func NewRegistry(cfg *ScheduleConfig, s Store, opts ...RegistryOption) *Registry {
	if cfg == nil {
		cfg = &ScheduleConfig{Entries: map[string]EntryConfig{}}
	}
	r := &Registry{
		cfg:          cfg,
		store:        s,
		loc:          time.UTC,
		logger:       slog.Default(),
		lockTTL:      10 * time.Second,
		lockAttempts: 50,
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the declared schedule.
func (r *Registry) Config() *ScheduleConfig { return r.cfg }

// Location returns the zone cadences are evaluated in.
func (r *Registry) Location() *time.Location { return r.loc }

// Schedule returns the parsed cadence, caching it.
func (r *Registry) Schedule(expr string) (cronlib.Schedule, error) {
	r.parsedMu.RLock()
	sched, ok := r.parsed[expr]
	r.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseCadence(expr)
	if err != nil {
		return nil, err
	}

	r.parsedMu.Lock()
	r.parsed[expr] = sched
	r.parsedMu.Unlock()
	return sched, nil
}

// Next returns the first occurrence of expr strictly after t.
func (r *Registry) Next(expr string, t time.Time) (time.Time, error) {
	sched, err := r.Schedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return nextAfter(sched, t, r.loc), nil
}

// ──────────────────────────────────────────────────
// Reconcile
// ──────────────────────────────────────────────────

// Reconcile makes the installed entries match the declared ones. Running
// it again with the same declaration returns empty Changes.
func (r *Registry) Reconcile(ctx context.Context, now time.Time) (Changes, error) {
	if err := r.cfg.Validate(); err != nil {
		return Changes{}, err
	}
	if err := r.checkQueues(); err != nil {
		return Changes{}, err
	}

	var changes Changes
	err := r.withLock(ctx, func(ctx context.Context) error {
		var err error
		changes, err = r.reconcile(ctx, now.UTC())
		return err
	})
	if err != nil {
		return Changes{}, err
	}

	if !changes.Empty() {
		r.logger.Info("schedule reconciled",
			slog.Any("installed", changes.Installed),
			slog.Any("updated", changes.Updated),
			slog.Any("removed", changes.Removed),
		)
		if err := r.notify(ctx); err != nil {
			r.logger.Warn("schedule change notification failed", slog.String("error", err.Error()))
		}
	}
	return changes, nil
}

func (r *Registry) checkQueues() error {
	if r.queues == nil {
		return nil
	}
	for _, name := range r.cfg.Names() {
		tmpl, err := r.cfg.Entries[name].template()
		if err != nil {
			return tempo.Validationf("schedule %q: %v", name, err)
		}
		q := tmpl.Job(name).Queue
		if _, ok := r.queues[q]; !ok {
			return tempo.Validationf("schedule %q: queue %q is not consumed", name, q)
		}
	}
	return nil
}

func (r *Registry) reconcile(ctx context.Context, now time.Time) (Changes, error) {
	installed, err := r.load(ctx)
	if err != nil {
		return Changes{}, err
	}

	var changes Changes
	for _, name := range r.cfg.Names() {
		kind, err := r.reconcileEntry(ctx, name, installed[name], now)
		for attempt := 1; errors.Is(err, ErrEntryChanged) && attempt < saveAttempts; attempt++ {
			cur, lerr := r.lookup(ctx, name)
			if lerr != nil {
				return changes, lerr
			}
			kind, err = r.reconcileEntry(ctx, name, cur, now)
		}
		if err != nil {
			return changes, err
		}
		switch kind {
		case changeInstall:
			changes.Installed = append(changes.Installed, name)
		case changeUpdate:
			changes.Updated = append(changes.Updated, name)
		}
	}

	var stale []string
	for name := range installed {
		if _, ok := r.cfg.Entries[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		if err := r.store.HDel(ctx, entriesKey, stale...); err != nil {
			return changes, fmt.Errorf("cron: remove entries: %w", err)
		}
		changes.Removed = stale
	}
	return changes, nil
}

type change int

const (
	changeNone change = iota
	changeInstall
	changeUpdate
)

// reconcileEntry brings one declared entry in line with its installed
// version cur, which is nil when nothing is installed.
func (r *Registry) reconcileEntry(ctx context.Context, name string, cur *Entry, now time.Time) (change, error) {
	decl := r.cfg.Entries[name]
	tmpl, err := decl.template()
	if err != nil {
		return changeNone, tempo.Validationf("schedule %q: %v", name, err)
	}

	if cur == nil {
		next, err := r.Next(decl.Expr(), now)
		if err != nil {
			return changeNone, err
		}
		e := &Entry{
			ID:          id.NewScheduleID(),
			Name:        name,
			Cadence:     decl.Expr(),
			Template:    tmpl,
			Description: decl.Description,
			Enabled:     decl.IsEnabled(),
			NextRunAt:   next,
			UpdatedAt:   now,
		}
		if err := r.Save(ctx, e); err != nil {
			return changeNone, err
		}
		return changeInstall, nil
	}

	updated := false
	if cur.Cadence != decl.Expr() || (!cur.Enabled && decl.IsEnabled()) {
		next, err := r.Next(decl.Expr(), now)
		if err != nil {
			return changeNone, err
		}
		cur.Cadence = decl.Expr()
		cur.NextRunAt = next
		updated = true
	}
	if !cur.Template.Equal(tmpl) {
		cur.Template = tmpl
		updated = true
	}
	if cur.Description != decl.Description || cur.Enabled != decl.IsEnabled() {
		cur.Description = decl.Description
		cur.Enabled = decl.IsEnabled()
		updated = true
	}
	if !updated {
		return changeNone, nil
	}
	cur.UpdatedAt = now
	if err := r.Save(ctx, cur); err != nil {
		return changeNone, err
	}
	return changeUpdate, nil
}

var errLockBusy = errors.New("cron: reconcile lock busy")

// withLock runs fn while holding the reconcile lock, waiting for a
// concurrent reconciler to finish first.
func (r *Registry) withLock(ctx context.Context, fn func(context.Context) error) error {
	owner := uuid.NewString()
	err := backoff.Retry(ctx, backoff.NewConstant(100*time.Millisecond), r.lockAttempts,
		func(err error) bool { return errors.Is(err, errLockBusy) },
		func(ctx context.Context) error {
			ok, err := r.store.AcquireLock(ctx, reconcileLock, owner, r.lockTTL)
			if err != nil {
				return err
			}
			if !ok {
				return errLockBusy
			}
			return nil
		},
	)
	if errors.Is(err, errLockBusy) {
		return fmt.Errorf("%w: %s", tempo.ErrLockHeld, reconcileLock)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := r.store.ReleaseLock(context.WithoutCancel(ctx), reconcileLock, owner); err != nil {
			r.logger.Warn("release reconcile lock failed", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx)
}

func (r *Registry) notify(ctx context.Context) error {
	return r.store.Publish(ctx, ChangedChannel, []byte("reconciled"))
}

// Subscribe delivers a message whenever any process changes the installed
// set.
func (r *Registry) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	return r.store.Subscribe(ctx, ChangedChannel)
}

// ──────────────────────────────────────────────────
// Entries
// ──────────────────────────────────────────────────

func (r *Registry) load(ctx context.Context) (map[string]*Entry, error) {
	raw, err := r.store.HGetAll(ctx, entriesKey)
	if err != nil {
		return nil, fmt.Errorf("cron: load entries: %w", err)
	}
	out := make(map[string]*Entry, len(raw))
	for name, data := range raw {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			// Reinstalled from the declaration on this reconcile, or
			// removed if no longer declared.
			r.logger.Warn("dropping undecodable schedule entry", slog.String("name", name), slog.String("error", err.Error()))
			continue
		}
		e.stored = data
		out[name] = &e
	}
	return out, nil
}

// lookup returns the installed entry for name, or nil.
func (r *Registry) lookup(ctx context.Context, name string) (*Entry, error) {
	m, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return m[name], nil
}

// List returns the installed entries sorted by name.
func (r *Registry) List(ctx context.Context) ([]*Entry, error) {
	m, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns one installed entry or tempo.ErrScheduleNotFound.
func (r *Registry) Get(ctx context.Context, name string) (*Entry, error) {
	m, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tempo.ErrScheduleNotFound, name)
	}
	return e, nil
}

// Save writes an entry read from this registry, or installs a new one. It
// returns ErrEntryChanged when the stored entry was replaced or removed
// since e was read, leaving the store untouched.
func (r *Registry) Save(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cron: encode entry %s: %w", e.Name, err)
	}
	ok, err := r.store.HSetIf(ctx, entriesKey, e.Name, e.stored, data)
	if err != nil {
		return fmt.Errorf("cron: save entry %s: %w", e.Name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryChanged, e.Name)
	}
	e.stored = data
	return nil
}

// SetEnabled turns an installed entry on or off until the next Reconcile
// that declares otherwise. Enabling recomputes the next fire time from now.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool, now time.Time) (*Entry, error) {
	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		var e *Entry
		e, err = r.setEnabled(ctx, name, enabled, now)
		if !errors.Is(err, ErrEntryChanged) {
			return e, err
		}
	}
	return nil, err
}

func (r *Registry) setEnabled(ctx context.Context, name string, enabled bool, now time.Time) (*Entry, error) {
	e, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Enabled == enabled {
		return e, nil
	}
	if enabled {
		next, err := r.Next(e.Cadence, now)
		if err != nil {
			return nil, err
		}
		e.NextRunAt = next
	}
	e.Enabled = enabled
	e.UpdatedAt = now.UTC()
	if err := r.Save(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
