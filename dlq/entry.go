package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/job"
)

// Entry is a job in the dead set.
type Entry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"class,omitempty"`
	Queue      string    `json:"queue,omitempty"`
	Args       job.Args  `json:"args,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	Schedule   string    `json:"schedule,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at,omitzero"`
	FailedAt   time.Time `json:"failed_at"`

	// Raw holds the stored payload when it is not a valid descriptor.
	Raw json.RawMessage `json:"raw,omitempty"`

	job *job.Job
}

// Job returns the decoded descriptor, or nil for undecodable messages.
func (e *Entry) Job() *job.Job { return e.job }

func fromMessage(msg *broker.Message) *Entry {
	e := &Entry{ID: msg.Ref, FailedAt: msg.At}

	j, err := job.Decode(msg.Payload)
	if err != nil {
		if json.Valid(msg.Payload) {
			e.Raw = msg.Payload
		} else {
			raw, _ := json.Marshal(string(msg.Payload))
			e.Raw = raw
		}
		return e
	}

	e.job = j
	e.Kind = j.Kind
	e.Queue = j.Queue
	e.Args = j.Args
	e.Error = j.LastError
	e.RetryCount = j.RetryCount
	e.MaxRetries = j.Retry.MaxRetries
	e.Schedule = j.Schedule
	e.EnqueuedAt = j.EnqueuedAt
	if j.FailedAt != nil {
		e.FailedAt = *j.FailedAt
	}
	return e
}
