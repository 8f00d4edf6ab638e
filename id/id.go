// Package id holds tempo's identifiers: TypeIDs ("job_01h2x...") whose
// prefix tells a job reference, a schedule entry and a worker member apart
// in broker keys and API paths. They sort by creation time.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the entity tag before the underscore.
type Prefix string

const (
	PrefixJob      Prefix = "job"
	PrefixSchedule Prefix = "sched"
	PrefixWorker   Prefix = "wkr"
)

// ID wraps a TypeID. The zero value is Nil and encodes as "".
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the empty ID.
var Nil ID

type (
	JobID      = ID
	ScheduleID = ID
	WorkerID   = ID
)

// New returns a fresh ID. It panics on a malformed prefix, which only a
// programming error can produce.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: prefix %q: %v", p, err))
	}
	return ID{tid: tid, ok: true}
}

func NewJobID() ID      { return New(PrefixJob) }
func NewScheduleID() ID { return New(PrefixSchedule) }
func NewWorkerID() ID   { return New(PrefixWorker) }

// Parse decodes any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// Parse decodes s and requires it to carry prefix p.
func (p Prefix) Parse(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != p {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, p)
	}
	return parsed, nil
}

func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity tag, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.ok }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText accepts "" as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
