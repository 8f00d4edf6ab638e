package tempo

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Conn is the minimal broker interface held by the Dispatcher. It covers
// lifecycle only; the full composite interface (broker.Broker) is used by
// the subsystem packages.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for subsystem lifecycle.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds process-wide configuration, the logger and the broker
// connection. The engine package wires the subsystems into it.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	broker     Conn
	extensions extensionEmitter
	runners    []runner

	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Broker returns the dispatcher's broker connection.
func (d *Dispatcher) Broker() Conn { return d.broker }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// AddRunner appends a subsystem started by Start, in order, and stopped by
// Stop in reverse order (called by the engine package).
func (d *Dispatcher) AddRunner(r runner) { d.runners = append(d.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start starts every registered subsystem. If one fails, the ones already
// started are stopped again.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.broker == nil {
		return ErrNoBroker
	}
	for i, r := range d.runners {
		if err := r.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = d.runners[j].Stop(ctx)
			}
			return err
		}
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the subsystems and closes the broker.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.started {
		for i := len(d.runners) - 1; i >= 0; i-- {
			if err := d.runners[i].Stop(ctx); err != nil {
				d.logger.Error("subsystem stop error", "error", err)
			}
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.broker != nil {
		return d.broker.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues to consume, highest priority first.
func WithQueues(queues ...string) Option {
	return func(d *Dispatcher) error {
		d.config.Queues = queues
		return nil
	}
}

// WithVisibilityTimeout sets how long a popped job may stay unacknowledged.
func WithVisibilityTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.VisibilityTimeout = t
		return nil
	}
}

// WithLocation sets the time zone cadence expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) error {
		d.config.Location = loc
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithBroker sets the broker connection. It is typically a broker.Broker,
// which embeds every primitive the subsystems use.
func WithBroker(b Conn) Option {
	return func(d *Dispatcher) error {
		d.broker = b
		return nil
	}
}
