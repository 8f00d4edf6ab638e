package cron_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/cron"
)

const sampleSchedule = `
daily_report:
  cron: "0 0 * * *"
  class: GenerateDailyReport
  args: [ "pdf", { region: eu, days: 1 } ]
  queue: low
  description: "Nightly usage report"
sync_accounts:
  cadence: "@every 30s"
  class: SyncAccounts
  max_retries: 3
paused:
  cron: "*/5 * * * *"
  class: Noop
  enabled: false
`

func TestLoadFile_MissingIsEmpty(t *testing.T) {
	cfg, err := cron.LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.Entries) != 0 {
		t.Fatalf("expected empty config, got %d entries", len(cfg.Entries))
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yml")
	if err := os.WriteFile(path, []byte(sampleSchedule), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := cron.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := cfg.Names(); strings.Join(got, ",") != "daily_report,paused,sync_accounts" {
		t.Fatalf("Names = %v", got)
	}

	daily := cfg.Entries["daily_report"]
	if daily.Expr() != "0 0 * * *" || daily.Class != "GenerateDailyReport" || daily.Queue != "low" {
		t.Errorf("daily_report = %+v", daily)
	}
	if len(daily.Args) != 2 {
		t.Errorf("expected 2 args, got %d", len(daily.Args))
	}
	if !daily.IsEnabled() {
		t.Error("entries are enabled by default")
	}

	sync := cfg.Entries["sync_accounts"]
	if sync.Expr() != "@every 30s" {
		t.Errorf("cadence alias not honoured: %q", sync.Expr())
	}
	if sync.MaxRetries == nil || *sync.MaxRetries != 3 {
		t.Errorf("max_retries = %v", sync.MaxRetries)
	}
	if cfg.Entries["paused"].IsEnabled() {
		t.Error("paused entry should be disabled")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"bad cadence", "broken:\n  cron: \"61 * * * *\"\n  class: X\n", "broken"},
		{"missing cadence", "nocron:\n  class: X\n", "nocron"},
		{"missing class", "noclass:\n  cron: \"@daily\"\n", "noclass"},
		{"negative retries", "neg:\n  cron: \"@daily\"\n  class: X\n  max_retries: -1\n", "neg"},
		{"not a mapping", "- a\n- b\n", "schedule file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cron.Parse([]byte(tt.yaml))
			if !errors.Is(err, tempo.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error %q should mention %q", err, tt.mention)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "# nothing scheduled\n", "~\n"} {
		cfg, err := cron.Parse([]byte(in))
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if len(cfg.Entries) != 0 {
			t.Fatalf("Parse(%q): expected no entries", in)
		}
	}
}

func TestParseCadence(t *testing.T) {
	valid := []string{"0 0 * * *", "*/5 * * * *", "30 0 0 * * *", "@daily", "@every 1m"}
	for _, expr := range valid {
		if _, err := cron.ParseCadence(expr); err != nil {
			t.Errorf("ParseCadence(%q): %v", expr, err)
		}
	}
	invalid := []string{"", "not a cron", "* * *"}
	for _, expr := range invalid {
		if _, err := cron.ParseCadence(expr); err == nil {
			t.Errorf("ParseCadence(%q): expected error", expr)
		}
	}
}
