package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/id"
)

// MemberState represents the lifecycle state of a worker process.
type MemberState string

const (
	// MemberActive means the process is healthy and processing jobs.
	MemberActive MemberState = "active"
	// MemberDraining means the process is finishing in-flight jobs but
	// not popping new ones (graceful shutdown).
	MemberDraining MemberState = "draining"
)

// Member is a tempo process registered with the cluster.
type Member struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queues      []string    `json:"queues"`
	Concurrency int         `json:"concurrency"`
	State       MemberState `json:"state"`
	Leader      bool        `json:"leader"`
	StartedAt   time.Time   `json:"started_at"`
	LastSeen    time.Time   `json:"last_seen"`
}

// NewMember describes the current process.
func NewMember(queues []string, concurrency int) Member {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Member{
		ID:          id.NewWorkerID(),
		Hostname:    host,
		Queues:      queues,
		Concurrency: concurrency,
		State:       MemberActive,
	}
}

// Membership registers the local member in a broker hash and keeps its
// heartbeat fresh.
type Membership struct {
	hash      broker.Hash
	key       string
	interval  time.Duration
	threshold time.Duration
	elector   *Elector
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	self Member

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// MembershipOption configures a Membership.
type MembershipOption func(*Membership)

// WithHeartbeatInterval sets how often the local member heartbeats.
func WithHeartbeatInterval(d time.Duration) MembershipOption {
	return func(m *Membership) { m.interval = d }
}

// WithReapThreshold sets how stale a member may get before it is reaped.
func WithReapThreshold(d time.Duration) MembershipOption {
	return func(m *Membership) { m.threshold = d }
}

// WithElector records leadership in the member entry and lets only the
// leader reap.
func WithElector(e *Elector) MembershipOption {
	return func(m *Membership) { m.elector = e }
}

// WithMembershipLogger sets the logger.
func WithMembershipLogger(l *slog.Logger) MembershipOption {
	return func(m *Membership) { m.logger = l }
}

// WithMembershipClock overrides the time source.
func WithMembershipClock(now func() time.Time) MembershipOption {
	return func(m *Membership) { m.now = now }
}

// NewMembership creates a Membership for self.
func NewMembership(h broker.Hash, self Member, opts ...MembershipOption) *Membership {
	m := &Membership{
		hash:      h,
		key:       "workers",
		interval:  10 * time.Second,
		threshold: time.Minute,
		logger:    slog.Default(),
		now:       time.Now,
		self:      self,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Self returns a copy of the local member.
func (m *Membership) Self() Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Register writes the local member.
func (m *Membership) Register(ctx context.Context) error {
	m.mu.Lock()
	now := m.now().UTC()
	if m.self.StartedAt.IsZero() {
		m.self.StartedAt = now
	}
	m.mu.Unlock()
	return m.Heartbeat(ctx)
}

// Heartbeat refreshes the local member's LastSeen.
func (m *Membership) Heartbeat(ctx context.Context) error {
	m.mu.Lock()
	m.self.LastSeen = m.now().UTC()
	if m.elector != nil {
		m.self.Leader = m.elector.IsLeader()
	}
	self := m.self
	m.mu.Unlock()

	data, err := json.Marshal(self)
	if err != nil {
		return fmt.Errorf("cluster: encode member: %w", err)
	}
	return m.hash.HSet(ctx, m.key, self.ID.String(), data)
}

// SetState changes the local member's state and publishes it.
func (m *Membership) SetState(ctx context.Context, s MemberState) error {
	m.mu.Lock()
	m.self.State = s
	m.mu.Unlock()
	return m.Heartbeat(ctx)
}

// Deregister removes the local member.
func (m *Membership) Deregister(ctx context.Context) error {
	return m.hash.HDel(ctx, m.key, m.Self().ID.String())
}

// List returns every registered member, oldest first. Undecodable entries
// are skipped.
func (m *Membership) List(ctx context.Context) ([]*Member, error) {
	raw, err := m.hash.HGetAll(ctx, m.key)
	if err != nil {
		return nil, err
	}
	members := make([]*Member, 0, len(raw))
	for field, data := range raw {
		var mem Member
		if err := json.Unmarshal(data, &mem); err != nil {
			m.logger.Warn("skipping undecodable member", slog.String("field", field), slog.String("error", err.Error()))
			continue
		}
		members = append(members, &mem)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].StartedAt.Before(members[j].StartedAt)
	})
	return members, nil
}

// Reap removes members whose last heartbeat is older than the threshold
// and returns them.
func (m *Membership) Reap(ctx context.Context) ([]*Member, error) {
	members, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().UTC().Add(-m.threshold)

	var dead []*Member
	var fields []string
	for _, mem := range members {
		if mem.LastSeen.Before(cutoff) {
			dead = append(dead, mem)
			fields = append(fields, mem.ID.String())
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	if err := m.hash.HDel(ctx, m.key, fields...); err != nil {
		return nil, err
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start registers the member and heartbeats until Stop.
func (m *Membership) Start(ctx context.Context) error {
	if err := m.Register(ctx); err != nil {
		return fmt.Errorf("cluster: register member: %w", err)
	}
	m.wg.Add(1)
	go m.loop()
	self := m.Self()
	m.logger.Info("worker registered",
		slog.String("worker_id", self.ID.String()),
		slog.String("hostname", self.Hostname),
	)
	return nil
}

// Stop ends the heartbeat loop and deregisters.
func (m *Membership) Stop(ctx context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	return m.Deregister(ctx)
}

func (m *Membership) loop() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.Heartbeat(ctx); err != nil {
				m.logger.Warn("worker heartbeat error", slog.String("error", err.Error()))
			}
			if m.elector != nil && !m.elector.IsLeader() {
				continue
			}
			dead, err := m.Reap(ctx)
			if err != nil {
				m.logger.Warn("worker reap error", slog.String("error", err.Error()))
			}
			for _, d := range dead {
				m.logger.Warn("reaped dead worker",
					slog.String("worker_id", d.ID.String()),
					slog.String("hostname", d.Hostname),
					slog.Time("last_seen", d.LastSeen),
				)
			}
		}
	}
}
