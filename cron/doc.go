// Package cron keeps recurring job schedules and fires them.
//
// Schedules are declared in a YAML file (config/schedule.yml by default),
// one mapping entry per schedule:
//
//	daily_report:
//	  cron: "0 0 * * *"
//	  class: GenerateDailyReport
//	  args: [ "pdf" ]
//	  queue: low
//	  description: "Nightly usage report"
//
// A missing file is an empty schedule, not an error.
//
// # Registry
//
// The [Registry] keeps the installed entries in a broker hash. Reconcile
// makes the installed set match the declared one: missing entries are
// installed with their next fire time, undeclared ones removed, and changed
// ones updated. A cadence change recomputes the next fire time; a template
// change keeps it. Reconcile is idempotent and runs under a short broker
// lock so two processes booting together never interleave.
//
// # Enable / Disable
//
// Entries can be disabled without removing them (enabled: false in the file,
// or Registry.SetEnabled from the admin CLI). Enabling recomputes the next
// fire time so missed occurrences are not replayed.
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, but only while its
// elector holds leadership. For each due entry it claims the occurrence with
// SETNX on fired:{name}:{unix}, enqueues the job from the entry's template,
// then advances NextRunAt past now. Occurrences missed while no leader was
// running coalesce into a single fire.
package cron
