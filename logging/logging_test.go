package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/xraph/tempo/logging"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup_ProductionIsJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := logging.Setup(logging.Config{Production: true, Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown", slog.String("queue", "default"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record above the level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["queue"] != "default" {
		t.Errorf("record = %v", rec)
	}
	if slog.Default() != logger {
		t.Error("Setup should install the logger as default")
	}
}

func TestSetup_DevelopmentIsText(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := logging.Setup(logging.Config{Level: "debug", Output: &buf})
	logger.Debug("job started", slog.String("job_kind", "Report"))

	if !strings.Contains(buf.String(), "msg=\"job started\"") || !strings.Contains(buf.String(), "job_kind=Report") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}

func TestTraceHandler_AddsSpanIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(logging.NewTraceHandler(slog.NewJSONHandler(&buf, nil)).WithAttrs([]slog.Attr{slog.String("component", "worker")}))
	logger.InfoContext(ctx, "traced")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", rec["trace_id"])
	}
	if rec["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", rec["span_id"])
	}
	if rec["component"] != "worker" {
		t.Errorf("WithAttrs lost the trace handler: %v", rec)
	}
}

func TestTraceHandler_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id without a span: %s", buf.String())
	}
}
