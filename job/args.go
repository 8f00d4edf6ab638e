package job

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Args is the ordered argument list of a job. Each element is one JSON value.
type Args []json.RawMessage

// NewArgs JSON-encodes each value into an argument list.
func NewArgs(values ...any) (Args, error) {
	args := make(Args, 0, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		args = append(args, data)
	}
	return args, nil
}

// MustArgs is like NewArgs but panics on error. Use with literal values.
func MustArgs(values ...any) Args {
	args, err := NewArgs(values...)
	if err != nil {
		panic(err)
	}
	return args
}

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("argument %d out of range (have %d)", i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("decode argument %d: %w", i, err)
	}
	return nil
}

// Canonical returns a stable encoding of the list. Object keys are sorted
// and insignificant whitespace removed, so equal arguments always produce
// equal bytes.
func (a Args) Canonical() ([]byte, error) {
	values := make([]any, len(a))
	for i, raw := range a {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&values[i]); err != nil {
			return nil, fmt.Errorf("canonicalize argument %d: %w", i, err)
		}
	}
	return json.Marshal(values)
}
