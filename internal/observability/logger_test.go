package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "json", "warn")
	l.Info("hidden")
	l.Warn("shown", "speaker", "ai")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (%q)", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["speaker"] != "ai" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "text", "debug").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text output = %q, want msg=hello", buf.String())
	}
}
