package queue

import "golang.org/x/time/rate"

// KindConfig limits how many jobs of one kind run at once on this process
// and how fast they may start, whatever queue they arrive on.
type KindConfig struct {
	// Kind is the job kind (job.Job.Kind).
	Kind string

	// MaxConcurrency limits simultaneous jobs of this kind. Zero means no
	// kind-specific concurrency limit.
	MaxConcurrency int

	// RateLimit is the sustained jobs per second for this kind.
	RateLimit float64

	// RateBurst is the burst size for the kind's rate limiter.
	RateBurst int
}

// kindState tracks runtime state for a single kind.
type kindState struct {
	config  KindConfig
	limiter *rate.Limiter
	active  int
}

// SetKindConfig configures limits for a job kind. Calling this multiple
// times for the same kind replaces the previous configuration.
func (m *Manager) SetKindConfig(cfg KindConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ks := &kindState{config: cfg, limiter: newLimiter(cfg.RateLimit, cfg.RateBurst)}

	// Preserve current active count if reconfiguring.
	if existing := m.kinds[cfg.Kind]; existing != nil {
		ks.active = existing.active
	}
	m.kinds[cfg.Kind] = ks
}

// KindActiveCount returns the current number of active jobs of a kind.
func (m *Manager) KindActiveCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks := m.kinds[kind]; ks != nil {
		return ks.active
	}
	return 0
}
