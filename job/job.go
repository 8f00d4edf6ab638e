package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/backoff"
	"github.com/xraph/tempo/id"
)

// Job is the serialized descriptor of a unit of work.
type Job struct {
	ID         id.JobID      `json:"id"`
	Kind       string        `json:"class"`
	Args       Args          `json:"args"`
	Queue      string        `json:"queue"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	RunAt      time.Time     `json:"run_at,omitzero"`
	RetryCount int           `json:"retry_count"`
	Retry      RetryPolicy   `json:"retry"`
	LastError  string        `json:"last_error,omitempty"`
	FailedAt   *time.Time    `json:"failed_at,omitempty"`
	Schedule   string        `json:"schedule,omitempty"`
	CacheTTL   time.Duration `json:"cache_ttl,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// New builds a job descriptor with a fresh ID. It does not validate.
func New(kind string, args Args, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	j := &Job{
		ID:         id.NewJobID(),
		Kind:       kind,
		Args:       args,
		Queue:      o.Queue,
		EnqueuedAt: now,
		Retry:      o.Retry,
		Schedule:   o.Schedule,
		CacheTTL:   o.CacheTTL,
		Timeout:    o.Timeout,
	}
	if !o.RunAt.IsZero() {
		j.RunAt = o.RunAt.UTC()
	}
	if j.Args == nil {
		j.Args = Args{}
	}
	return j
}

// Validate rejects descriptors that must never reach a queue.
func (j *Job) Validate() error {
	if j.Kind == "" {
		return tempo.Validationf("job kind is required")
	}
	if j.Queue == "" {
		return tempo.Validationf("job %q: queue is required", j.Kind)
	}
	if j.Retry.MaxRetries < 0 {
		return tempo.Validationf("job %q: max_retries must be >= 0, got %d", j.Kind, j.Retry.MaxRetries)
	}
	if j.CacheTTL < 0 || j.Timeout < 0 {
		return tempo.Validationf("job %q: durations must not be negative", j.Kind)
	}
	for i, a := range j.Args {
		if !json.Valid(a) {
			return tempo.Validationf("job %q: argument %d is not valid JSON", j.Kind, i)
		}
	}
	return nil
}

// Attempts is the number of executions so far, counting the current one.
func (j *Job) Attempts() int { return j.RetryCount + 1 }

// Encode serializes the descriptor for the broker.
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return data, nil
}

// Decode parses a descriptor produced by Encode.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

// ──────────────────────────────────────────────────
// Retry policy
// ──────────────────────────────────────────────────

// DefaultMaxRetries is the retry budget of a job that does not set one.
const DefaultMaxRetries = 25

// RetryPolicy travels with every job: how many retries it gets and how long
// to wait before each one.
type RetryPolicy struct {
	MaxRetries int                  `json:"max_retries"`
	Backoff    *backoff.Exponential `json:"backoff,omitempty"`
}

// DefaultRetryPolicy returns 25 retries with exponential backoff from 1s,
// capped at 1h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, Backoff: backoff.DefaultStrategy()}
}

// Delay is the wait before the retry that follows failure number
// retryCount: base × 2^retryCount, capped.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if p.Backoff == nil {
		return backoff.DefaultStrategy().Delay(retryCount)
	}
	return p.Backoff.Delay(retryCount)
}

// Exhausted reports whether a job that has failed retryCount times has no
// retries left.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount > p.MaxRetries
}
