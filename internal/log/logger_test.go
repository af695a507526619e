package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"Warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"critical", LevelCritical, false},
		{"warn", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetupTextRenamesLevels(t *testing.T) {
	var buf bytes.Buffer
	Setup("debug", "text", &buf)

	Warn("disk nearly full")
	Get().Log(context.Background(), LevelCritical, "giving up")

	out := buf.String()
	if !strings.Contains(out, "level=WARNING") {
		t.Errorf("expected WARNING level name, got %q", out)
	}
	if !strings.Contains(out, "level=CRITICAL") {
		t.Errorf("expected CRITICAL level name, got %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Errorf("text output should not carry timestamps: %q", out)
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup("error", "text", &buf)

	Info("hidden")
	Debug("hidden too")
	Error("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below error leaked: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("error message missing: %q", out)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "json", &buf)

	WithComponent("dispatch").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "dispatch" {
		t.Errorf("Expected component 'dispatch', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
	if _, ok := out["time"]; !ok {
		t.Errorf("json output should keep the timestamp")
	}
}

func TestWithPluginAndRun(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "json", &buf)

	WithPlugin("acme").With("run_id", "r-1").Info("plugin msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["plugin"] != "acme" {
		t.Errorf("Expected plugin 'acme', got %v", out["plugin"])
	}

	buf.Reset()
	WithRun("run-123").Info("run msg")
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["run_id"] != "run-123" {
		t.Errorf("Expected run_id 'run-123', got %v", out["run_id"])
	}
}
