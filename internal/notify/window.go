// Package notify implements the notification dispatcher: ordered fan-out to
// registered sinks with do-not-disturb queuing and an urgent bypass.
package notify

import (
	"fmt"
	"regexp"
	"time"
)

// Window is a daily do-not-disturb interval in HH:MM wall-clock time. A
// window whose start is later than its end crosses midnight.
type Window struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`

	// AllowUrgent lets urgent messages through while the window is active.
	AllowUrgent bool `json:"allow_urgent" yaml:"allow_urgent"`
}

var timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// parseClock parses HH:MM into minutes since midnight.
func parseClock(s string) (int, error) {
	if !timePattern.MatchString(s) {
		return 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", s)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, err
	}
	return hour*60 + minute, nil
}

// ParseWindow parses a "HH:MM-HH:MM" range.
func ParseWindow(s string) (*Window, error) {
	var start, end string
	if _, err := fmt.Sscanf(s, "%5s-%5s", &start, &end); err != nil {
		return nil, fmt.Errorf("invalid window format: %s (expected HH:MM-HH:MM)", s)
	}
	if _, err := parseClock(start); err != nil {
		return nil, fmt.Errorf("invalid window start: %w", err)
	}
	if _, err := parseClock(end); err != nil {
		return nil, fmt.Errorf("invalid window end: %w", err)
	}
	return &Window{Start: start, End: end}, nil
}

// Format renders the window back to "HH:MM-HH:MM".
func (w *Window) Format() string {
	return w.Start + "-" + w.End
}

// ActiveAt reports whether the given time falls inside the window.
func (w *Window) ActiveAt(t time.Time) bool {
	startMinutes, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	endMinutes, err := parseClock(w.End)
	if err != nil {
		return false
	}

	currentMinutes := t.Hour()*60 + t.Minute()

	if startMinutes <= endMinutes {
		return currentMinutes >= startMinutes && currentMinutes < endMinutes
	}

	// Overnight window (e.g. 22:00-06:00).
	return currentMinutes >= startMinutes || currentMinutes < endMinutes
}
