// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied before each job executes.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// recover → tracing → metrics → logging → timeout → handler
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	    middleware.Timeout(logger),
//	)
//
// # Built-in Middleware
//
//   - [Recover] converts handler panics into errors
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-kind duration and outcome counters
//   - [Logging] logs each execution at debug level
//   - [Timeout] cancels the job context after the job's Timeout
//   - [Context] exposes the executing job to the handler via job.FromContext
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
