// Package ext defines the extension system for tempo.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or writing an audit trail. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type Auditor struct{}
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnJobDead(ctx context.Context, j *job.Job, err error) error {
//	    log.Printf("job %s (%s) is dead: %v", j.ID, j.Kind, err)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into a queue
//   - [JobStarted]: a worker slot began executing the job
//   - [JobCompleted]: the handler returned without error
//   - [JobFailed]: the handler returned an error (any attempt)
//   - [JobRetrying]: the failure was scheduled for retry
//   - [JobDead]: the retry budget is spent and the job was buried
//
// # Other Hooks
//
//   - [CronFired]: a schedule entry fired and a job was enqueued
//   - [LeadershipChanged]: this process gained or lost schedule leadership
//   - [Shutdown]: the process is shutting down
//
// The [Registry] fans out each event to every registered extension that
// implements the corresponding hook. Hook errors are logged, never returned.
package ext
