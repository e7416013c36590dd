// internal/app/compiler.go
package app

import (
	"fmt"
	"time"

	"outreach_cadence_engine/internal/domain/cadence"
)

// CompiledAction is one entry of a compiled schedule: a snapshot action id and
// the absolute instant it becomes due.
type CompiledAction struct {
	ActionID string
	DueAt    time.Time
}

// InvalidScheduleError reports a malformed cadence definition detected during
// schedule compilation. It is returned synchronously to the enrollment caller
// and never retried.
type InvalidScheduleError struct {
	CadenceID int64
	Reason    string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule for cadence %d: %s", e.CadenceID, e.Reason)
}

// CompileSchedule translates a cadence definition, an enrollment instant and a
// lead timezone into the ordered list of concrete due instants, one per action.
//
// Days are walked 1..N in order, actions within a day in their defined order. A
// cursor starts at the enrollment instant and advances to each computed due
// time; day boundaries never reset it, so due times are non-decreasing across
// the whole cadence. Wall-clock rules are interpreted in the cadence timezone,
// falling back to the lead timezone and finally UTC.
func CompileSchedule(def *cadence.Definition, enrolledAt time.Time, leadTimezone string) ([]CompiledAction, error) {
	loc, err := resolveLocation(def, leadTimezone)
	if err != nil {
		return nil, err
	}

	window, err := parseBusinessHours(def)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	schedule := make([]CompiledAction, 0, def.ActionCount())
	cursor := enrolledAt
	var prevDue *time.Time

	for i, day := range def.Days {
		if day.Number != i+1 {
			return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("day numbers must be a dense 1..N sequence, got %d at position %d", day.Number, i+1)}
		}
		for _, action := range day.Actions {
			if _, dup := seen[action.ID]; dup {
				return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("duplicate action id %q", action.ID)}
			}
			seen[action.ID] = struct{}{}

			due, err := resolveDue(def, action, cursor, prevDue, loc)
			if err != nil {
				return nil, err
			}
			if window != nil {
				due = window.shiftForward(due, loc)
			}

			schedule = append(schedule, CompiledAction{ActionID: action.ID, DueAt: due})
			cursor = due
			prev := due
			prevDue = &prev
		}
	}

	return schedule, nil
}

// resolveDue computes an action's raw due instant before any business-hours
// shift is applied.
func resolveDue(def *cadence.Definition, action cadence.Action, cursor time.Time, prevDue *time.Time, loc *time.Location) (time.Time, error) {
	switch action.Schedule.Kind {
	case cadence.RuleImmediately:
		return cursor, nil

	case cadence.RuleTimeOfDay:
		hour, minute, err := parseClock(action.Schedule.TimeOfDay)
		if err != nil {
			return time.Time{}, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("action %q: bad time_of_day %q: %v", action.ID, action.Schedule.TimeOfDay, err)}
		}
		local := cursor.In(loc)
		due := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if due.Before(cursor) {
			// That wall-clock time already passed on the cursor's date.
			due = due.AddDate(0, 0, 1)
		}
		return due, nil

	case cadence.RuleAfterPrevious:
		if action.Schedule.MinutesAfterPrevious < 0 {
			return time.Time{}, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("action %q: negative minutes_after_previous", action.ID)}
		}
		if prevDue == nil {
			// No predecessor in global order: due immediately after enrollment.
			return cursor, nil
		}
		return prevDue.Add(time.Duration(action.Schedule.MinutesAfterPrevious) * time.Minute), nil

	default:
		return time.Time{}, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("action %q: unknown schedule rule kind %q", action.ID, action.Schedule.Kind)}
	}
}

func resolveLocation(def *cadence.Definition, leadTimezone string) (*time.Location, error) {
	tz := def.Timezone
	if tz == "" {
		tz = leadTimezone
	}
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("unknown timezone %q", tz)}
	}
	return loc, nil
}

// businessWindow is a parsed business-hours constraint. Minutes are from
// midnight in the cadence timezone; the window is [start, end).
type businessWindow struct {
	startMinute int
	endMinute   int
	weekdays    map[time.Weekday]bool
}

func parseBusinessHours(def *cadence.Definition) (*businessWindow, error) {
	bh := def.BusinessHours
	if !bh.Enabled {
		return nil, nil
	}
	startH, startM, err := parseClock(bh.Start)
	if err != nil {
		return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("bad business hours start %q: %v", bh.Start, err)}
	}
	endH, endM, err := parseClock(bh.End)
	if err != nil {
		return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: fmt.Sprintf("bad business hours end %q: %v", bh.End, err)}
	}
	w := &businessWindow{
		startMinute: startH*60 + startM,
		endMinute:   endH*60 + endM,
		weekdays:    make(map[time.Weekday]bool, len(bh.Weekdays)),
	}
	if w.endMinute <= w.startMinute {
		return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: "business hours end must be after start"}
	}
	if len(bh.Weekdays) == 0 {
		return nil, &InvalidScheduleError{CadenceID: def.ID, Reason: "business hours enabled with no weekdays"}
	}
	for _, d := range bh.Weekdays {
		w.weekdays[d] = true
	}
	return w, nil
}

// shiftForward moves t forward to the next instant inside the window. It
// never shifts backward: an instant already inside the window is returned
// unchanged.
func (w *businessWindow) shiftForward(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	for {
		minute := local.Hour()*60 + local.Minute()
		if w.weekdays[local.Weekday()] && minute >= w.startMinute && minute < w.endMinute {
			return local
		}
		if w.weekdays[local.Weekday()] && minute < w.startMinute {
			return time.Date(local.Year(), local.Month(), local.Day(), w.startMinute/60, w.startMinute%60, 0, 0, loc)
		}
		// Past the window or on a disallowed weekday: next day at window start.
		local = time.Date(local.Year(), local.Month(), local.Day()+1, w.startMinute/60, w.startMinute%60, 0, 0, loc)
	}
}

func parseClock(value string) (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:mm: %w", err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}
