// internal/domain/cadence/definition.go
package cadence

import (
	"encoding/json"
	"time"

	"outreach_cadence_engine/internal/domain/event"
)

// Definition is an immutable, versioned cadence snapshot.
// Corresponds to the 'cadence_definitions' table; the whole tree is stored as a
// JSONB payload and copied onto each run at enrollment. In-flight runs always
// execute against the snapshot taken when they enrolled.
type Definition struct {
	ID                int64          `json:"id"`
	Version           int            `json:"version"`
	Name              string         `json:"name"`
	Timezone          string         `json:"timezone"`
	Trigger           Trigger        `json:"trigger"`
	Days              []Day          `json:"days"`
	BusinessHours     BusinessHours  `json:"business_hours"`
	StopConditions    StopConditions `json:"stop_conditions"`
	MaxConcurrentRuns *int           `json:"max_concurrent_runs,omitempty"` // nil = unlimited
	CreatedAt         time.Time      `json:"created_at"`
}

// Trigger describes the CRM event that enrolls leads into this cadence.
// An empty AssignedTo list matches any assignee.
type Trigger struct {
	Type       TriggerType `json:"type"`
	AssignedTo []int64     `json:"assigned_to,omitempty"`
}

// Day groups the actions scheduled for one day of the sequence.
// Day numbers form a dense 1..N sequence within a definition.
type Day struct {
	Number  int      `json:"number"`
	Actions []Action `json:"actions"`
}

// Action is a single outbound step of a cadence. Config is the channel-specific
// payload (template id, message body, script reference) passed through to the
// channel adapter untouched.
type Action struct {
	ID       string          `json:"id"`
	Type     ActionType      `json:"type"`
	Schedule ScheduleRule    `json:"schedule"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// ScheduleRule derives an action's due time. TimeOfDay is "HH:mm" (24h) in the
// cadence timezone and only meaningful for RuleTimeOfDay; MinutesAfterPrevious
// only for RuleAfterPrevious.
type ScheduleRule struct {
	Kind                 ScheduleRuleKind `json:"kind"`
	TimeOfDay            string           `json:"time_of_day,omitempty"`
	MinutesAfterPrevious int              `json:"minutes_after_previous,omitempty"`
}

// BusinessHours is the weekday/time window outside of which no action may be
// dispatched. Start/End are "HH:mm" in the cadence timezone; the window is
// [Start, End).
type BusinessHours struct {
	Enabled  bool           `json:"enabled"`
	Start    string         `json:"start,omitempty"`
	End      string         `json:"end,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

// StopConditions configures which inbound signals end a run early. For
// event.SignalLeadStageChange, the signal only matches when the new stage is
// one of StageTargets.
type StopConditions struct {
	Enabled      bool               `json:"enabled"`
	Kinds        []event.SignalType `json:"kinds,omitempty"`
	StageTargets []string           `json:"stage_targets,omitempty"`
}

// ActionCount returns the total number of actions across all days.
func (d *Definition) ActionCount() int {
	n := 0
	for _, day := range d.Days {
		n += len(day.Actions)
	}
	return n
}

// Matches reports whether a stop signal should terminate a run of this cadence.
func (sc StopConditions) Matches(sig event.StopSignal) bool {
	if !sc.Enabled {
		return false
	}
	for _, kind := range sc.Kinds {
		if kind != sig.Type {
			continue
		}
		if sig.Type != event.SignalLeadStageChange {
			return true
		}
		for _, stage := range sc.StageTargets {
			if stage == sig.NewStage {
				return true
			}
		}
	}
	return false
}

// AllowsAssignee reports whether the trigger accepts an assignment to the given
// user. An unrestricted trigger accepts any assignee.
func (t Trigger) AllowsAssignee(userID int64) bool {
	if len(t.AssignedTo) == 0 {
		return true
	}
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}
