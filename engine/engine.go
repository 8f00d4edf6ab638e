package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/cache"
	"github.com/xraph/tempo/cluster"
	"github.com/xraph/tempo/cron"
	"github.com/xraph/tempo/dlq"
	"github.com/xraph/tempo/ext"
	"github.com/xraph/tempo/job"
	mw "github.com/xraph/tempo/middleware"
	"github.com/xraph/tempo/observability"
	"github.com/xraph/tempo/queue"
	"github.com/xraph/tempo/stream"
	"github.com/xraph/tempo/worker"
)

const instrumentation = "github.com/xraph/tempo"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *tempo.Dispatcher
	broker     broker.Broker
	extensions *ext.Registry
	registry   *job.Registry
	logger     *slog.Logger

	// Queue subsystem.
	queue        *queue.Queue
	maintainer   *queue.Maintainer
	queueConfigs []queue.Config
	kindConfigs  []queue.KindConfig
	limits       *queue.Manager
	dlqService   *dlq.Service

	// Execution.
	cache     *cache.Cache
	cacheLock time.Duration
	executor  *worker.Executor
	pool      *worker.Pool
	mws       []mw.Middleware

	// Schedule subsystem.
	schedule   *cron.ScheduleConfig
	schedules  *cron.Registry
	scheduler  *cron.Scheduler
	elector    *cluster.Elector
	membership *cluster.Membership

	// Live lifecycle events.
	stream *stream.Hub

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. Added middleware
// runs inside the default chain, closest to the handler.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithKindConfig registers per-kind rate limiting and concurrency.
func WithKindConfig(configs ...queue.KindConfig) Option {
	return func(eng *Engine) {
		eng.kindConfigs = append(eng.kindConfigs, configs...)
	}
}

// WithSchedule sets the declared recurring schedule installed by Start.
func WithSchedule(cfg *cron.ScheduleConfig) Option {
	return func(eng *Engine) {
		eng.schedule = cfg
	}
}

// WithCacheLock makes concurrent cache misses for the same fingerprint
// compute once, holding a broker lock of the given TTL. Zero disables it.
func WithCacheLock(ttl time.Duration) Option {
	return func(eng *Engine) {
		eng.cacheLock = ttl
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// enqueuer adapts Engine.EnqueueJob to dlq.Enqueuer.
type enqueuer func(ctx context.Context, j *job.Job) error

func (f enqueuer) Enqueue(ctx context.Context, j *job.Job) error { return f(ctx, j) }

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's broker must implement broker.Broker.
func Build(d *tempo.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	conn := d.Broker()
	if conn == nil {
		return nil, tempo.ErrNoBroker
	}
	b, ok := conn.(broker.Broker)
	if !ok {
		return nil, fmt.Errorf("tempo: broker %T does not implement broker.Broker", conn)
	}

	eng := &Engine{
		d:          d,
		broker:     b,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		logger:     logger,
		cacheLock:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(eng)
	}

	config := d.Config()

	eng.queue = queue.New(b, config.Queues,
		queue.WithVisibilityTimeout(config.VisibilityTimeout),
		queue.WithLogger(logger),
	)
	eng.maintainer = queue.NewMaintainer(b,
		queue.WithInterval(config.PromoteInterval),
		queue.WithMaintainerLogger(logger),
	)
	eng.dlqService = dlq.NewService(b, enqueuer(eng.EnqueueJob))

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if eng.cacheLock > 0 {
		cacheOpts = append(cacheOpts, cache.WithLock(b, eng.cacheLock))
	}
	eng.cache = cache.New(b, cacheOpts...)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentation + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.stream = stream.NewHub(stream.WithLogger(logger))
	eng.extensions.Register(eng.stream)

	eng.executor = worker.NewExecutor(eng.registry, eng.queue,
		worker.WithCache(eng.cache),
		worker.WithMiddleware(eng.middleware()...),
		worker.WithExecutorLogger(logger),
	)

	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(config.Concurrency),
		worker.WithPopTimeout(config.PopTimeout),
		worker.WithShutdownTimeout(config.ShutdownTimeout),
		worker.WithEmitter(eng.extensions),
		worker.WithLogger(logger),
	}
	if len(eng.queueConfigs) > 0 || len(eng.kindConfigs) > 0 {
		eng.limits = queue.NewManager(eng.queueConfigs...)
		for _, kc := range eng.kindConfigs {
			eng.limits.SetKindConfig(kc)
		}
		poolOpts = append(poolOpts, worker.WithLimiter(eng.limits))
	}
	eng.pool = worker.NewPool(eng.queue, eng.executor, poolOpts...)

	// Schedule subsystem.
	eng.elector = cluster.NewElector(b,
		cluster.WithTTL(config.LeaderTTL),
		cluster.WithEmitter(eng.extensions),
		cluster.WithLogger(logger),
	)
	eng.schedules = cron.NewRegistry(eng.schedule, b,
		cron.WithLocation(config.Location),
		cron.WithRegistryLogger(logger),
		cron.WithQueues(config.Queues...),
	)
	eng.scheduler = cron.NewScheduler(eng.schedules, b, eng.elector, eng.EnqueueJob,
		cron.WithTickInterval(config.TickInterval),
		cron.WithEmitter(eng.extensions),
		cron.WithLogger(logger),
	)
	eng.membership = cluster.NewMembership(b, cluster.NewMember(config.Queues, config.Concurrency),
		cluster.WithElector(eng.elector),
		cluster.WithMembershipLogger(logger),
	)

	// Wire back into the Dispatcher. Stop runs in reverse: the pool
	// drains first and the member deregisters last.
	d.AddRunner(eng.membership)
	d.AddRunner(eng.elector)
	d.AddRunner(eng.maintainer)
	d.AddRunner(eng.scheduler)
	d.AddRunner(eng.pool)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// middleware builds recover → tracing → metrics → logging → timeout →
// context → user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentation))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentation))
	}

	all := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
		mw.Context(),
	}
	return append(all, eng.mws...)
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// Register binds a handler to a job kind.
func (eng *Engine) Register(kind string, h job.Handler) error {
	return eng.registry.Register(kind, h)
}

// RegisterFunc binds a typed function to a job kind. The first argument is
// decoded into T and the return value becomes the job result.
func RegisterFunc[T, R any](eng *Engine, kind string, fn func(ctx context.Context, in T) (R, error)) error {
	return eng.registry.Register(kind, job.Typed(fn))
}

// Enqueue builds a job for kind and enqueues it.
func (eng *Engine) Enqueue(ctx context.Context, kind string, args job.Args, opts ...job.Option) (*job.Job, error) {
	j := job.New(kind, args, opts...)
	if err := eng.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// EnqueueJob enqueues a prepared descriptor.
func (eng *Engine) EnqueueJob(ctx context.Context, j *job.Job) error {
	if err := eng.queue.Enqueue(ctx, j); err != nil {
		return err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_kind", j.Kind),
		slog.String("queue", j.Queue),
	)
	return nil
}

// Invoke runs the handler for kind synchronously in the calling process,
// through the middleware chain and result cache, without touching a queue.
// An unknown kind returns an error wrapping tempo.ErrUnknownKind.
func (eng *Engine) Invoke(ctx context.Context, kind string, args job.Args, opts ...job.Option) (job.Result, error) {
	j := job.New(kind, args, opts...)
	if err := j.Validate(); err != nil {
		return nil, err
	}
	res, _, err := eng.executor.Run(ctx, j)
	return res, err
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start checks the broker, installs the declared schedule and starts the
// membership heartbeat, leader election, maintainer, schedule firer and
// worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.broker.Ping(gctx); err != nil {
			return fmt.Errorf("%w: %w", tempo.ErrConnection, err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := eng.schedules.Reconcile(gctx, time.Now()); err != nil {
			return fmt.Errorf("reconcile schedule: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the broker.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// ──────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────

// Stats is a point-in-time view of the queues and this process.
type Stats struct {
	Queues  *broker.Stats     `json:"queues"`
	Pool    worker.Stats      `json:"pool"`
	Leader  bool              `json:"leader"`
	Members []*cluster.Member `json:"members"`
	Stream  stream.Stats      `json:"stream"`
}

// Stats collects broker counts, the local pool counters and the member
// list concurrently.
func (eng *Engine) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{
		Pool:   eng.pool.Stats(),
		Leader: eng.elector.IsLeader(),
		Stream: eng.stream.Stats(),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := eng.queue.Stats(gctx)
		out.Queues = s
		return err
	})
	g.Go(func() error {
		m, err := eng.membership.List(gctx)
		out.Members = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *tempo.Dispatcher { return eng.d }

// Broker returns the shared broker.
func (eng *Engine) Broker() broker.Broker { return eng.broker }

// Queue returns the job queue.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// DLQService returns the dead-set service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Cache returns the result cache.
func (eng *Engine) Cache() *cache.Cache { return eng.cache }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Schedules returns the schedule registry.
func (eng *Engine) Schedules() *cron.Registry { return eng.schedules }

// Scheduler returns the schedule firer.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Elector returns the leader elector.
func (eng *Engine) Elector() *cluster.Elector { return eng.elector }

// Membership returns the cluster membership.
func (eng *Engine) Membership() *cluster.Membership { return eng.membership }

// Stream returns the live event hub.
func (eng *Engine) Stream() *stream.Hub { return eng.stream }

// QueueManager returns the limit manager, or nil if no queue or kind
// configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.limits }
