// Package cluster coordinates tempo processes sharing one broker: leader
// election for the recurring-schedule firer and a registry of live workers.
//
// # Leader Election
//
// [Elector] holds a TTL lock named "leader" with a random owner token and
// renews it every TTL/3. It tracks a local lease deadline, so IsLeader turns
// false before the broker TTL can expire even when renewals are failing. A
// failed renewal is relinquishment: the elector logs ErrLockLost at info and
// campaigns again on the next beat. At most one elector holds leadership at
// any instant.
//
//	e := cluster.NewElector(b, cluster.WithTTL(15*time.Second))
//	_ = e.Start(ctx)
//	if e.IsLeader() {
//	    // fire schedules
//	}
//
// # Membership
//
// Each running process registers itself as a [Member] in a broker hash and
// heartbeats it. Members whose last heartbeat is older than the reap
// threshold are removed; their in-flight jobs come back through the queue
// maintainer's reclaim.
package cluster
