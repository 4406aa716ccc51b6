// Package watcher monitors filesystem paths and dispatches debounced change
// notifications.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the per-path quiet interval before a change is
// dispatched.
const DefaultDebounce = 2 * time.Second

// previewBytes bounds the file preview attached when analysis is enabled.
const previewBytes = 2000

// Notifier receives the formatted change message.
type Notifier func(message string)

// Monitor watches registered paths and coalesces event bursts: the last
// event within a debounce window cancels its predecessor and reschedules
// dispatch.
type Monitor struct {
	watcher  *fsnotify.Watcher
	notify   Notifier
	debounce time.Duration
	analyze  bool
	logger   *slog.Logger

	mu      sync.Mutex
	paths   map[string]bool
	pending map[string]*time.Timer
	closed  bool

	done chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce overrides the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithAnalysis attaches a preview of the file's first bytes to the
// notification.
func WithAnalysis(enabled bool) Option {
	return func(m *Monitor) { m.analyze = enabled }
}

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a monitor dispatching through notify.
func NewMonitor(notify Notifier, opts ...Option) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	m := &Monitor{
		watcher:  w,
		notify:   notify,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		paths:    make(map[string]bool),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.loop()
	return m, nil
}

// AddPath starts watching a path. Adding an already-watched path is a no-op.
func (m *Monitor) AddPath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths[path] {
		return nil
	}
	if err := m.watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	m.paths[path] = true
	m.logger.Info("watching path", "path", path)
	return nil
}

// RemovePath stops watching a path. Removing an unknown path is a no-op.
func (m *Monitor) RemovePath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paths[path] {
		return nil
	}
	if err := m.watcher.Remove(path); err != nil {
		return fmt.Errorf("unwatch %s: %w", path, err)
	}
	delete(m.paths, path)
	return nil
}

// Paths returns the currently watched paths.
func (m *Monitor) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.paths))
	for p := range m.paths {
		out = append(out, p)
	}
	return out
}

// Close stops the monitor and cancels pending dispatches.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for path, timer := range m.pending {
		timer.Stop()
		delete(m.pending, path)
	}
	m.mu.Unlock()

	err := m.watcher.Close()
	<-m.done
	return err
}

func (m *Monitor) loop() {
	defer close(m.done)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.schedule(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watch error", "error", err)
		}
	}
}

// schedule resets the path's debounce timer; only the final event of a burst
// is dispatched.
func (m *Monitor) schedule(event fsnotify.Event) {
	kind := eventKind(event.Op)
	if kind == "" {
		return
	}
	path := event.Name

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if timer, ok := m.pending[path]; ok {
		timer.Stop()
	}
	m.pending[path] = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		delete(m.pending, path)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		m.dispatch(kind, path)
	})
}

func (m *Monitor) dispatch(kind, path string) {
	message := fmt.Sprintf("File %s: %s", kind, path)
	if m.analyze {
		if preview := readPreview(path); preview != "" {
			message = preview + "\n\n" + message
		}
	}
	m.logger.Debug("file change dispatched", "path", path, "event", kind)
	m.notify(message)
}

func eventKind(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Write):
		return "modified"
	case op.Has(fsnotify.Remove):
		return "deleted"
	case op.Has(fsnotify.Rename):
		return "renamed"
	default:
		return ""
	}
}

// readPreview returns the printable head of the file, empty on any error.
func readPreview(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, previewBytes)
	n, _ := f.Read(buf)
	if n == 0 {
		return ""
	}
	preview := string(buf[:n])
	if !strings.Contains(preview, "\x00") {
		return strings.TrimSpace(preview)
	}
	return ""
}
