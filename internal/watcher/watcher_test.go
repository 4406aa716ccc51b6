package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, chan string) {
	t.Helper()
	messages := make(chan string, 16)
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	m, err := NewMonitor(func(msg string) { messages <- msg }, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m, messages
}

func waitForMessage(t *testing.T, messages chan string) string {
	t.Helper()
	select {
	case msg := <-messages:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no notification arrived")
		return ""
	}
}

func TestMonitorDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	m, messages := newTestMonitor(t)
	if err := m.AddPath(dir); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "notes.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	msg := waitForMessage(t, messages)
	if !strings.HasSuffix(msg, path) || !strings.HasPrefix(msg, "File ") {
		t.Errorf("message = %q", msg)
	}

	// The burst collapses to a single notification.
	select {
	case extra := <-messages:
		t.Errorf("unexpected second notification: %q", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMonitorAnalysisAttachesPreview(t *testing.T) {
	dir := t.TempDir()
	m, messages := newTestMonitor(t, WithAnalysis(true))
	if err := m.AddPath(dir); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "todo.md")
	if err := os.WriteFile(path, []byte("buy milk\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	msg := waitForMessage(t, messages)
	if !strings.Contains(msg, "buy milk") {
		t.Errorf("preview missing: %q", msg)
	}
	if !strings.Contains(msg, "File ") {
		t.Errorf("change line missing: %q", msg)
	}
}

func TestMonitorAddRemoveIdempotent(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestMonitor(t)

	if err := m.AddPath(dir); err != nil {
		t.Fatal(err)
	}
	if err := m.AddPath(dir); err != nil {
		t.Errorf("second AddPath errored: %v", err)
	}
	if got := m.Paths(); len(got) != 1 {
		t.Errorf("paths = %v", got)
	}

	if err := m.RemovePath(dir); err != nil {
		t.Fatal(err)
	}
	if err := m.RemovePath(dir); err != nil {
		t.Errorf("second RemovePath errored: %v", err)
	}
	if got := m.Paths(); len(got) != 0 {
		t.Errorf("paths after remove = %v", got)
	}
}

func TestEventKind(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Create, "created"},
		{fsnotify.Write, "modified"},
		{fsnotify.Remove, "deleted"},
		{fsnotify.Rename, "renamed"},
		{fsnotify.Chmod, ""},
	}
	for _, tt := range tests {
		if got := eventKind(tt.op); got != tt.want {
			t.Errorf("eventKind(%v) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestReadPreview(t *testing.T) {
	dir := t.TempDir()

	text := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(text, []byte("  hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readPreview(text); got != "hello" {
		t.Errorf("preview = %q", got)
	}

	long := filepath.Join(dir, "long.txt")
	if err := os.WriteFile(long, []byte(strings.Repeat("a", previewBytes*2)), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readPreview(long); len(got) != previewBytes {
		t.Errorf("preview length = %d, want %d", len(got), previewBytes)
	}

	binary := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(binary, []byte{0x00, 0x01, 0x02}, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readPreview(binary); got != "" {
		t.Errorf("binary preview = %q, want empty", got)
	}

	if got := readPreview(filepath.Join(dir, "missing")); got != "" {
		t.Errorf("missing file preview = %q, want empty", got)
	}
}
