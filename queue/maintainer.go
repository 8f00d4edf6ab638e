package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tempo/broker"
)

// DefaultBatch is the number of references moved per Promote or Reclaim
// call.
const DefaultBatch = 100

// Maintainer moves due scheduled jobs to their queues and returns expired
// in-flight jobs to theirs. Every process may run one: each reference is
// claimed atomically by the broker, so concurrent maintainers never move
// the same job twice.
type Maintainer struct {
	broker   broker.Queue
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// MaintainerOption configures a Maintainer.
type MaintainerOption func(*Maintainer)

// WithInterval sets how often the maintainer ticks.
func WithInterval(d time.Duration) MaintainerOption {
	return func(m *Maintainer) { m.interval = d }
}

// WithBatch sets the per-call move limit.
func WithBatch(n int) MaintainerOption {
	return func(m *Maintainer) { m.batch = n }
}

// WithMaintainerLogger sets the logger.
func WithMaintainerLogger(l *slog.Logger) MaintainerOption {
	return func(m *Maintainer) { m.logger = l }
}

// WithMaintainerClock overrides the time source.
func WithMaintainerClock(now func() time.Time) MaintainerOption {
	return func(m *Maintainer) { m.now = now }
}

// NewMaintainer creates a Maintainer over b.
func NewMaintainer(b broker.Queue, opts ...MaintainerOption) *Maintainer {
	m := &Maintainer{
		broker:   b,
		logger:   slog.Default(),
		interval: time.Second,
		batch:    DefaultBatch,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick runs one promote and reclaim pass. Each call drains in batches
// until fewer than batch references were due.
func (m *Maintainer) Tick(ctx context.Context) (promoted, reclaimed int, err error) {
	now := m.now()

	promoted, err = m.drain(ctx, now, m.broker.Promote)
	if err != nil {
		return promoted, 0, err
	}
	reclaimed, err = m.drain(ctx, now, m.broker.Reclaim)
	if reclaimed > 0 {
		m.logger.Warn("reclaimed expired in-flight jobs", slog.Int("count", reclaimed))
	}
	return promoted, reclaimed, err
}

func (m *Maintainer) drain(ctx context.Context, now time.Time, fn func(context.Context, time.Time, int) (int, error)) (int, error) {
	total := 0
	for {
		n, err := fn(ctx, now, m.batch)
		total += n
		if err != nil || n < m.batch {
			return total, err
		}
	}
}

// Start launches the tick loop.
func (m *Maintainer) Start(_ context.Context) error {
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("queue maintainer started", slog.Duration("interval", m.interval))
	return nil
}

// Stop signals the loop to exit and waits for it.
func (m *Maintainer) Stop(_ context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("queue maintainer stopped")
	return nil
}

func (m *Maintainer) loop() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("queue maintenance error", slog.String("error", err.Error()))
			}
		}
	}
}
