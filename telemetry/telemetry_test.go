package telemetry

import (
	"context"
	"testing"
)

func TestSetup_DisabledIsNil(t *testing.T) {
	tel, err := Setup(context.Background(), Config{ServiceName: "tempo"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel != nil {
		t.Fatal("expected nil telemetry without an endpoint")
	}
}

func TestSetup_Enabled(t *testing.T) {
	ctx := context.Background()
	tel, err := Setup(ctx, Config{
		Endpoint:       "http://127.0.0.1:4318/",
		ServiceName:    "tempo",
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel == nil || tel.TracerProvider() == nil {
		t.Fatal("expected installed providers")
	}

	// Nothing was recorded, so shutdown has nothing to flush.
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewResource_ServiceAttributes(t *testing.T) {
	res, err := newResource(context.Background(), Config{ServiceName: "tempo-worker", ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "tempo-worker" {
		t.Errorf("service.name = %q", got["service.name"])
	}
	if got["service.version"] != "1.2.3" {
		t.Errorf("service.version = %q", got["service.version"])
	}
	if got["telemetry.sdk.name"] == "" {
		t.Error("expected SDK attributes")
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"api-key=abc", map[string]string{"api-key": "abc"}},
		{" a = 1 , b=2=3,junk", map[string]string{"a": "1", "b": "2=3"}},
	}
	for _, tt := range tests {
		got := parseHeaders(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseHeaders(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseHeaders(%q)[%q] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}
