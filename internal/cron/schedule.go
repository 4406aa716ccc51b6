package cron

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// schedule is the in-memory timer state derived from a job's trigger.
type schedule struct {
	kind TriggerType

	at    time.Time
	every time.Duration
	expr  cron.Schedule
	loc   *time.Location
}

// newSchedule parses a job's trigger into timer state.
func newSchedule(triggerType TriggerType, args json.RawMessage, defaultTZ string) (*schedule, error) {
	switch triggerType {
	case TriggerDate:
		var t DateTrigger
		if err := json.Unmarshal(args, &t); err != nil {
			return nil, fmt.Errorf("parse date trigger: %w", err)
		}
		at, err := parseRunDate(t.RunDate, defaultTZ)
		if err != nil {
			return nil, err
		}
		return &schedule{kind: TriggerDate, at: at}, nil

	case TriggerInterval:
		var t IntervalTrigger
		if err := json.Unmarshal(args, &t); err != nil {
			return nil, fmt.Errorf("parse interval trigger: %w", err)
		}
		if t.Seconds <= 0 {
			return nil, fmt.Errorf("interval trigger requires positive seconds")
		}
		return &schedule{kind: TriggerInterval, every: time.Duration(t.Seconds * float64(time.Second))}, nil

	case TriggerCron:
		var t CronTrigger
		if err := json.Unmarshal(args, &t); err != nil {
			return nil, fmt.Errorf("parse cron trigger: %w", err)
		}
		expr, err := cronParser.Parse(strings.TrimSpace(t.Expression))
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		tz := t.Timezone
		if tz == "" {
			tz = defaultTZ
		}
		loc := time.Local
		if tz != "" {
			loc, err = time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
			}
		}
		return &schedule{kind: TriggerCron, expr: expr, loc: loc}, nil

	default:
		return nil, fmt.Errorf("unknown trigger type %q", triggerType)
	}
}

// next returns the next run time after now. ok=false means the schedule is
// exhausted (a fired one-shot).
func (s *schedule) next(now time.Time) (time.Time, bool) {
	switch s.kind {
	case TriggerDate:
		if now.After(s.at) {
			return time.Time{}, false
		}
		return s.at, true
	case TriggerInterval:
		return now.Add(s.every), true
	case TriggerCron:
		next := s.expr.Next(now.In(s.loc))
		return next, !next.IsZero()
	default:
		return time.Time{}, false
	}
}

func parseRunDate(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("run_date is required")
	}
	loc := time.Local
	if tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, value, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid run_date: %s", value)
}
