// Package tempo is a recurring-job scheduler backed by a durable broker.
//
// Jobs are enqueued onto priority queues held in the broker, executed by a
// pool of worker slots, retried with exponential backoff and dead-lettered
// once their retry budget is spent. A declarative schedule (name, cadence,
// job template) is reconciled into the broker at startup, and a single
// elected process fires due entries.
//
// # Quick Start
//
//	b, err := redis.Connect(ctx, os.Getenv("REDIS_URL"), broker.TLSPolicy{})
//	d, err := tempo.New(tempo.WithBroker(b), tempo.WithConcurrency(20))
//	eng, err := engine.Build(d, engine.WithSchedule(sched))
//	eng.Register("ReportJob", reportHandler)
//	err = eng.Start(ctx)
//
// # Architecture
//
// Every subsystem (queue, dlq, cron, cluster, cache) talks to the broker
// through the composite broker.Broker interface. The Redis implementation
// uses Lua scripts for every multi-key transition so a job reference lives
// in exactly one of pending, in-flight, scheduled or dead at any time.
//
// Delivery is at-least-once. A job whose worker dies mid-execution is
// requeued after the visibility timeout; handlers should be idempotent or
// run through the result cache.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package tempo
