// Package job defines the job descriptor, its retry policy, the handler
// interface and the registry that maps job kinds to handlers.
//
// # Job Descriptor
//
// A [Job] is immutable once enqueued except for RetryCount and LastError,
// which the dispatch loop updates on failure. Its lifecycle:
//
//	pending → in-flight → acked
//	pending → in-flight → discarded
//	pending → in-flight → scheduled (retry_count+1) → pending → ...
//	pending → in-flight → dead (retry_count > max_retries)
//
// Arguments are an ordered list of JSON values, so a job is fully described
// by plain data and never by a Go closure.
//
// # Handlers
//
// A [Handler] executes one kind of job. Use [HandlerFunc] for plain
// functions and [Typed] to decode the first argument into a Go type:
//
//	reg.Register("ReportJob", job.Typed(func(ctx context.Context, in ReportArgs) (Report, error) {
//	    return build(ctx, in)
//	}))
//
// Return tempo.Discard(err) from a handler to acknowledge the job without
// retrying it.
package job
