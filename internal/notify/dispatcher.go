package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Sink receives dispatched messages. Sinks run sequentially within a single
// send; a failing sink never blocks the others.
type Sink func(message string) error

// Dispatcher fans messages out to an ordered list of sinks. While a DND
// window is active, non-urgent messages are queued and flushed on the next
// delivering send or an explicit FlushQueue.
type Dispatcher struct {
	mu     sync.Mutex
	sinks  []Sink
	window *Window
	queued []string
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWindow installs a do-not-disturb window.
func WithWindow(w *Window) Option {
	return func(d *Dispatcher) { d.window = w }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher with no sinks.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddSink appends a sink to the fan-out list.
func (d *Dispatcher) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// SetWindow replaces the DND window. Nil disables DND.
func (d *Dispatcher) SetWindow(w *Window) {
	d.mu.Lock()
	d.window = w
	d.mu.Unlock()
}

// Send delivers the message to every sink, or queues it while DND is active
// and the message is not urgent (or urgent bypass is off). A delivering send
// first drains any queued messages, preserving their order.
func (d *Dispatcher) Send(message string, urgent bool) {
	d.mu.Lock()
	if d.dndActiveLocked() && !(urgent && d.window.AllowUrgent) {
		d.queued = append(d.queued, message)
		d.mu.Unlock()
		d.logger.Debug("message queued for quiet hours", "queued", len(d.queued))
		return
	}
	pending := d.drainLocked()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.Unlock()

	for _, m := range pending {
		d.deliver(sinks, m)
	}
	d.deliver(sinks, message)
}

// FlushQueue drains queued messages to the sinks regardless of DND state.
// Safe to call repeatedly; an empty queue is a no-op.
func (d *Dispatcher) FlushQueue() {
	d.mu.Lock()
	pending := d.drainLocked()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.Unlock()

	for _, m := range pending {
		d.deliver(sinks, m)
	}
}

// QueuedCount reports the number of deferred messages.
func (d *Dispatcher) QueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

func (d *Dispatcher) dndActiveLocked() bool {
	return d.window != nil && d.window.ActiveAt(d.now())
}

func (d *Dispatcher) drainLocked() []string {
	pending := d.queued
	d.queued = nil
	return pending
}

func (d *Dispatcher) deliver(sinks []Sink, message string) {
	for i, sink := range sinks {
		if err := sink(message); err != nil {
			d.logger.Warn("notification sink failed", "sink", i, "error", err)
		}
	}
}
