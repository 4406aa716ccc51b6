// Package audit provides the append-only JSONL record of tool activity.
// Every user-visible field is passed through one sanitisation helper before
// it is written: ANSI escapes are stripped and long strings truncated.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// EventType identifies the kind of audit entry.
type EventType string

const (
	EventToolCall           EventType = "tool_call"
	EventToolError          EventType = "tool_error"
	EventToolDenied         EventType = "tool_denied"
	EventPermissionDecision EventType = "permission_decision"
)

// MaxFieldSize is the length at which string fields are truncated.
const MaxFieldSize = 10000

const truncationMarker = "...[truncated]"

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Entry is one line of the audit log.
type Entry struct {
	Timestamp        time.Time `json:"timestamp"`
	EventType        EventType `json:"event_type"`
	SessionID        string    `json:"session_id,omitempty"`
	ToolName         string    `json:"tool_name,omitempty"`
	Input            string    `json:"input,omitempty"`
	Output           string    `json:"output,omitempty"`
	ActionCategory   string    `json:"action_category,omitempty"`
	ApprovalRequired bool      `json:"approval_required,omitempty"`
	DurationMS       int64     `json:"duration_ms,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Logger appends entries to a JSONL sink. Writes are serialised; a failed
// write is logged and dropped rather than failing the tool call.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger *slog.Logger
}

// NewLogger opens (or creates) the audit file at path in append mode.
func NewLogger(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{w: f, closer: f, logger: logger}, nil
}

// NewWriterLogger writes to the given writer. Used by tests and by callers
// that manage their own sink.
func NewWriterLogger(w io.Writer, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{w: w, logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{w: io.Discard, logger: slog.New(slog.DiscardHandler)}
}

// Log sanitises the entry's string fields and appends one JSON line.
func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Input = CleanString(entry.Input)
	entry.Output = CleanString(entry.Output)
	entry.Error = CleanString(entry.Error)

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Warn("failed to marshal audit entry", "error", err, "event_type", entry.EventType)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		l.logger.Warn("failed to write audit entry", "error", err, "event_type", entry.EventType)
	}
}

// ToolCall records a successful tool execution.
func (l *Logger) ToolCall(sessionID, tool, input, output, category string, approvalRequired bool, duration time.Duration) {
	l.Log(Entry{
		EventType:        EventToolCall,
		SessionID:        sessionID,
		ToolName:         tool,
		Input:            input,
		Output:           output,
		ActionCategory:   category,
		ApprovalRequired: approvalRequired,
		DurationMS:       duration.Milliseconds(),
	})
}

// ToolError records a handler failure.
func (l *Logger) ToolError(sessionID, tool, input, category string, duration time.Duration, errMsg string) {
	l.Log(Entry{
		EventType:      EventToolError,
		SessionID:      sessionID,
		ToolName:       tool,
		Input:          input,
		ActionCategory: category,
		DurationMS:     duration.Milliseconds(),
		Error:          errMsg,
	})
}

// ToolDenied records a permission denial. No handler ran.
func (l *Logger) ToolDenied(sessionID, tool, input, category string) {
	l.Log(Entry{
		EventType:        EventToolDenied,
		SessionID:        sessionID,
		ToolName:         tool,
		Input:            input,
		ActionCategory:   category,
		ApprovalRequired: true,
	})
}

// PermissionDecision records an approver verdict.
func (l *Logger) PermissionDecision(tool, category string, allowed bool) {
	entry := Entry{
		EventType:      EventPermissionDecision,
		ToolName:       tool,
		ActionCategory: category,
	}
	if allowed {
		entry.Output = "allowed"
	} else {
		entry.Output = "denied"
	}
	l.Log(entry)
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// CleanString strips ANSI escapes and truncates overlong strings with an
// explicit marker.
func CleanString(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	if len(s) > MaxFieldSize {
		s = s[:MaxFieldSize] + truncationMarker
	}
	return s
}
