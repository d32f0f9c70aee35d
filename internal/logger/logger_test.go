package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInit_JSONLevels(t *testing.T) {
	Init("warn", "json")
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if rec["message"] != "shown 2" || rec["level"] != "warning" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	Init("chatty", "text")
	var buf bytes.Buffer
	SetOutput(&buf)

	Debug("debug line")
	Info("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") || !strings.Contains(out, "info line") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSetFile_RequiresPath(t *testing.T) {
	if err := SetFile(FileOptions{}); err == nil {
		t.Error("expected error for empty path")
	}
}
