// Package dlq exposes the dead set: jobs whose retry count exceeded their
// max_retries. Dead jobs are never deleted automatically. They stay for
// inspection until an operator replays or deletes them.
//
// # Entry
//
// An [Entry] is the dead job's descriptor as it was at its final failure:
// kind, arguments, queue, retry counts, the last error and when it died.
// Messages that could not be decoded at all are listed with only ID, Raw
// and FailedAt set.
//
// # Service
//
//	svc := dlq.NewService(broker, q)
//	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 50})
//	j, _ := svc.Replay(ctx, entries[0].ID)
//
// Replay enqueues a copy of the job with a fresh ID and a zero retry count,
// then removes the entry from the dead set.
//
// # Admin API
//
// The dead set is exposed via the HTTP admin API and the CLI:
//   - GET    /v1/dead             list entries
//   - GET    /v1/dead/:id         get a single entry
//   - POST   /v1/dead/:id/replay  replay one entry
//   - DELETE /v1/dead/:id         delete one entry
package dlq
