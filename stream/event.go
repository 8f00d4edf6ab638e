// Package stream fans tempo lifecycle events out to live subscribers.
// A Hub is registered as an extension and delivers each event to the
// subscribers of its topics without blocking the worker that emitted it.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobDead      EventType = "job.dead"

	EventScheduleFired EventType = "schedule.fired"

	EventLeadershipChanged EventType = "cluster.leadership"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	Class     string `json:"class"`
	Queue     string `json:"queue"`
	Schedule  string `json:"schedule,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// ScheduleEventData is the payload for schedule fires.
type ScheduleEventData struct {
	Entry string `json:"entry"`
	JobID string `json:"job_id"`
}

// LeadershipEventData is the payload for leadership transitions.
type LeadershipEventData struct {
	Owner  string `json:"owner"`
	Leader bool   `json:"leader"`
}
