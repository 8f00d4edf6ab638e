package cron

import (
	"bytes"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/tempo/id"
	"github.com/xraph/tempo/job"
)

// Entry is an installed recurring schedule.
type Entry struct {
	ID          id.ScheduleID `json:"id"`
	Name        string        `json:"name"`
	Cadence     string        `json:"cadence"`
	Template    Template      `json:"template"`
	Description string        `json:"description,omitempty"`
	Enabled     bool          `json:"enabled"`
	NextRunAt   time.Time     `json:"next_run_at"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// stored is the encoding this entry was read as. Save only replaces
	// a field that still holds it.
	stored []byte
}

// Template is the job an entry enqueues on every fire.
type Template struct {
	Kind       string   `json:"class"`
	Args       job.Args `json:"args"`
	Queue      string   `json:"queue,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty"`
}

// Equal compares templates by kind, queue, retry budget and canonical
// arguments.
func (t Template) Equal(o Template) bool {
	if t.Kind != o.Kind || t.Queue != o.Queue {
		return false
	}
	if (t.MaxRetries == nil) != (o.MaxRetries == nil) {
		return false
	}
	if t.MaxRetries != nil && *t.MaxRetries != *o.MaxRetries {
		return false
	}
	a, errA := t.Args.Canonical()
	b, errB := o.Args.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Job builds the descriptor for one fire of the named entry.
func (t Template) Job(entry string) *job.Job {
	opts := []job.Option{job.WithSchedule(entry)}
	if t.Queue != "" {
		opts = append(opts, job.WithQueue(t.Queue))
	}
	if t.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*t.MaxRetries))
	}
	return job.New(t.Kind, t.Args, opts...)
}

// cronParser supports 5-field cron with optional leading seconds, and
// descriptors like "@daily" or "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCadence parses a cadence expression.
func ParseCadence(expr string) (cronlib.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty cadence")
	}
	return cronParser.Parse(expr)
}

// nextAfter returns the first occurrence strictly after t, evaluated in loc.
func nextAfter(s cronlib.Schedule, t time.Time, loc *time.Location) time.Time {
	return s.Next(t.In(loc)).UTC()
}
