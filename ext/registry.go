package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tempo/id"
	"github.com/xraph/tempo/job"
)

// hooked pairs a hook implementation with the extension name captured at
// registration time.
type hooked[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Extensions are sorted into per-hook slices at registration so each
// emit only visits the extensions that implement it.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	extensions []Extension

	jobEnqueued       []hooked[JobEnqueued]
	jobStarted        []hooked[JobStarted]
	jobCompleted      []hooked[JobCompleted]
	jobFailed         []hooked[JobFailed]
	jobRetrying       []hooked[JobRetrying]
	jobDead           []hooked[JobDead]
	cronFired         []hooked[CronFired]
	leadershipChanged []hooked[LeadershipChanged]
	shutdown          []hooked[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// addHook appends e to list when it implements H.
func addHook[H any](list []hooked[H], e Extension) []hooked[H] {
	if h, ok := e.(H); ok {
		return append(list, hooked[H]{name: e.Name(), hook: h})
	}
	return list
}

// Register adds an extension. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	r.jobEnqueued = addHook(r.jobEnqueued, e)
	r.jobStarted = addHook(r.jobStarted, e)
	r.jobCompleted = addHook(r.jobCompleted, e)
	r.jobFailed = addHook(r.jobFailed, e)
	r.jobRetrying = addHook(r.jobRetrying, e)
	r.jobDead = addHook(r.jobDead, e)
	r.cronFired = addHook(r.cronFired, e)
	r.leadershipChanged = addHook(r.leadershipChanged, e)
	r.shutdown = addHook(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// fire calls fn for every entry of list, logging and swallowing errors.
func fire[H any](r *Registry, hook string, list []hooked[H], fn func(H) error) {
	for _, e := range list {
		if err := fn(e.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hook),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// snapshot returns list under the read lock. Register only appends, so the
// returned slice header stays valid after the lock is released.
func snapshot[H any](r *Registry, list *[]hooked[H]) []hooked[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	fire(r, "OnJobEnqueued", snapshot(r, &r.jobEnqueued), func(h JobEnqueued) error {
		return h.OnJobEnqueued(ctx, j)
	})
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	fire(r, "OnJobStarted", snapshot(r, &r.jobStarted), func(h JobStarted) error {
		return h.OnJobStarted(ctx, j)
	})
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	fire(r, "OnJobCompleted", snapshot(r, &r.jobCompleted), func(h JobCompleted) error {
		return h.OnJobCompleted(ctx, j, elapsed)
	})
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	fire(r, "OnJobFailed", snapshot(r, &r.jobFailed), func(h JobFailed) error {
		return h.OnJobFailed(ctx, j, jobErr)
	})
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	fire(r, "OnJobRetrying", snapshot(r, &r.jobRetrying), func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, attempt, nextRunAt)
	})
}

// EmitJobDead notifies all extensions that implement JobDead.
func (r *Registry) EmitJobDead(ctx context.Context, j *job.Job, jobErr error) {
	fire(r, "OnJobDead", snapshot(r, &r.jobDead), func(h JobDead) error {
		return h.OnJobDead(ctx, j, jobErr)
	})
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, jobID id.JobID) {
	fire(r, "OnCronFired", snapshot(r, &r.cronFired), func(h CronFired) error {
		return h.OnCronFired(ctx, entryName, jobID)
	})
}

// EmitLeadershipChanged notifies all extensions that implement
// LeadershipChanged.
func (r *Registry) EmitLeadershipChanged(ctx context.Context, owner string, leader bool) {
	fire(r, "OnLeadershipChanged", snapshot(r, &r.leadershipChanged), func(h LeadershipChanged) error {
		return h.OnLeadershipChanged(ctx, owner, leader)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	fire(r, "OnShutdown", snapshot(r, &r.shutdown), func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
