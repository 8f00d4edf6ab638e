// Package observability provides an OpenTelemetry metrics extension for
// tempo. MetricsExtension implements the lifecycle hooks and records
// process-wide counters for enqueue, completion, failure, retry, dead,
// schedule fire and leadership events.
//
// For per-execution tracing and duration histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
