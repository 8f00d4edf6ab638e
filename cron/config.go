package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	yaml "go.yaml.in/yaml/v3"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/job"
)

// DefaultScheduleFile is where the worker looks for schedules.
const DefaultScheduleFile = "config/schedule.yml"

// EntryConfig is one declared schedule.
type EntryConfig struct {
	// Cron is the cadence expression. Cadence is accepted as an alias.
	Cron    string `yaml:"cron"`
	Cadence string `yaml:"cadence"`

	// Class is the job kind to enqueue.
	Class string `yaml:"class"`

	Args        []any  `yaml:"args"`
	Queue       string `yaml:"queue"`
	Description string `yaml:"description"`

	// MaxRetries overrides the job's default retry budget.
	MaxRetries *int `yaml:"max_retries"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
}

// Expr returns the cadence expression.
func (c EntryConfig) Expr() string {
	if c.Cron != "" {
		return c.Cron
	}
	return c.Cadence
}

// IsEnabled reports whether the entry should fire.
func (c EntryConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// ScheduleConfig is the declared schedule set, keyed by entry name.
type ScheduleConfig struct {
	Entries map[string]EntryConfig
}

// Names returns the entry names sorted.
func (c *ScheduleConfig) Names() []string {
	names := make([]string, 0, len(c.Entries))
	for n := range c.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads a schedule file. A missing file yields an empty config.
func LoadFile(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ScheduleConfig{Entries: map[string]EntryConfig{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cron: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates schedule YAML.
func Parse(data []byte) (*ScheduleConfig, error) {
	entries := map[string]EntryConfig{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, tempo.Validationf("schedule file: %v", err)
	}
	if entries == nil {
		entries = map[string]EntryConfig{}
	}
	cfg := &ScheduleConfig{Entries: entries}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every entry, naming the first invalid one.
func (c *ScheduleConfig) Validate() error {
	for _, name := range c.Names() {
		e := c.Entries[name]
		if e.Class == "" {
			return tempo.Validationf("schedule %q: class is required", name)
		}
		if _, err := ParseCadence(e.Expr()); err != nil {
			return tempo.Validationf("schedule %q: invalid cadence %q: %v", name, e.Expr(), err)
		}
		if e.MaxRetries != nil && *e.MaxRetries < 0 {
			return tempo.Validationf("schedule %q: max_retries must be >= 0", name)
		}
		if _, err := e.template(); err != nil {
			return tempo.Validationf("schedule %q: %v", name, err)
		}
	}
	return nil
}

// template converts the declared job fields.
func (c EntryConfig) template() (Template, error) {
	args := make(job.Args, 0, len(c.Args))
	for i, v := range c.Args {
		data, err := json.Marshal(normalizeYAML(v))
		if err != nil {
			return Template{}, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, data)
	}
	return Template{
		Kind:       c.Class,
		Args:       args,
		Queue:      c.Queue,
		MaxRetries: c.MaxRetries,
	}, nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeYAML(x[i])
		}
		return out
	default:
		return in
	}
}
