package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// capture routes log output to a buffer for the duration of the test.
func capture(t *testing.T, level Level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	SetFormat(format)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(LevelInfo)
		SetFormat("text")
		SetRun("")
	})
	return &buf
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, LevelInfo, "json")
	SetRun("a1b2c3d4")

	Info("moved %d rows", 42)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, buf.String())
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts")
	}
	if entry["level"] != "info" || entry["msg"] != "moved 42 rows" || entry["run_id"] != "a1b2c3d4" {
		t.Errorf("entry = %v", entry)
	}
}

func TestJSONOmitsEmptyRun(t *testing.T) {
	buf := capture(t, LevelInfo, "JSON")
	Warn("no run yet")
	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("run_id present: %s", buf.String())
	}
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, LevelInfo, "text")

	Info("\nSummary")
	SetRun("r1")
	Error("table failed")

	out := buf.String()
	if !strings.HasPrefix(out, "\n") {
		t.Errorf("leading newline not kept as separator: %q", out)
	}
	if !strings.Contains(out, "[INFO] Summary\n") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] [run r1] table failed\n") {
		t.Errorf("missing tagged error line: %q", out)
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		log   func(string, ...any)
		level string
	}{
		{Debug, "debug"},
		{Info, "info"},
		{Warn, "warn"},
		{Error, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := capture(t, LevelDebug, "json")
			tt.log("x")
			var entry map[string]any
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
				t.Fatal(err)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v", entry["level"])
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn, "text")

	Info("hidden")
	Debug("hidden too")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn should be dropped: %s", out)
	}
	if !strings.Contains(out, "[WARN] shown") {
		t.Errorf("expected warn line, got %s", out)
	}
	if IsDebug() {
		t.Error("IsDebug at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"", LevelInfo, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if Level(9).String() != "UNKNOWN" {
		t.Error("out of range level name")
	}
}
