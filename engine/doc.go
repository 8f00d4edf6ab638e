// Package engine wires all tempo subsystems together and provides the
// primary application-level API for registering handlers and enqueuing work.
//
// The root tempo package holds configuration and errors that every
// subsystem imports, so it cannot import them back. Engine sits above the
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	d, err := tempo.New(
//	    tempo.WithBroker(redisBroker),
//	    tempo.WithConcurrency(20),
//	)
//
//	sched, err := cron.LoadFile(cron.DefaultScheduleFile)
//
//	eng, err := engine.Build(d,
//	    engine.WithSchedule(sched),
//	    engine.WithExtension(myExtension),
//	    engine.WithQueueConfig(queue.Config{Name: "critical", RateLimit: 100}),
//	)
//
// # Registering Handlers
//
//	engine.RegisterFunc(eng, "SendEmail", func(ctx context.Context, in EmailInput) (string, error) {
//	    return mailer.Send(ctx, in)
//	})
//
// # Enqueuing Jobs
//
//	eng.Enqueue(ctx, "SendEmail", job.MustArgs(EmailInput{To: "user@example.com"}))
//
//	// With options
//	eng.Enqueue(ctx, "SendEmail", args, job.WithQueue("critical"), job.WithDelay(5*time.Minute))
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithQueueConfig] and [WithKindConfig] set local rate and concurrency limits
//   - [WithSchedule] sets the declared recurring schedule
//   - [WithCacheLock] serializes concurrent cache misses
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
