package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCleanStringStripsANSI(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"color codes", "\x1b[31mred\x1b[0m text", "red text"},
		{"cursor movement", "a\x1b[2Kb", "ab"},
		{"plain", "no escapes here", "no escapes here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanString(tt.input); got != tt.want {
				t.Errorf("CleanString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanStringTruncates(t *testing.T) {
	long := strings.Repeat("a", MaxFieldSize+500)
	got := CleanString(long)

	if len(got) != MaxFieldSize+len(truncationMarker) {
		t.Errorf("truncated length = %d, want %d", len(got), MaxFieldSize+len(truncationMarker))
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("truncated string missing marker, ends with %q", got[len(got)-20:])
	}
}

func TestLogWritesOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, nil)

	l.ToolCall("s1", "echo", `{"text":"hi"}`, "Echo: hi", "read", false, 12*time.Millisecond)

	line := buf.String()
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one newline-terminated line, got %q", line)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if entry.EventType != EventToolCall {
		t.Errorf("event_type = %s, want %s", entry.EventType, EventToolCall)
	}
	if entry.SessionID != "s1" || entry.ToolName != "echo" {
		t.Errorf("entry identity wrong: %+v", entry)
	}
	if entry.DurationMS != 12 {
		t.Errorf("duration_ms = %d, want 12", entry.DurationMS)
	}
	if entry.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestLogSanitisesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, nil)

	l.ToolError("s1", "shell_exec", "\x1b[31mrm -rf\x1b[0m", "delete", 0, strings.Repeat("e", MaxFieldSize+1))

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(entry.Input, "\x1b") {
		t.Errorf("input still contains ANSI escapes: %q", entry.Input)
	}
	if !strings.HasSuffix(entry.Error, truncationMarker) {
		t.Error("error field not truncated")
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	l, err := NewLogger(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	l.ToolDenied("s1", "shell_exec", `{"command":"rm -rf /"}`, "delete")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening appends rather than truncating.
	l, err = NewLogger(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	l.ToolCall("s1", "echo", "{}", "ok", "read", false, 0)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.EventType != EventToolDenied || !first.ApprovalRequired {
		t.Errorf("first entry = %+v, want tool_denied with approval_required", first)
	}
}
