// internal/domain/run/status.go
package run

// Status is the lifecycle state of a Run.
// Transitions: active -> {stopped, completed}, active <-> paused,
// paused -> stopped. Stopped and completed are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether no further transitions may leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted
}

// ActionStatus is the lifecycle state of a ScheduledAction.
// The run manager creates actions as scheduled; the dispatcher moves
// scheduled -> dispatching -> {sent, failed}; the monitor moves
// scheduled -> skipped on cancellation. Exactly one terminal write per action.
type ActionStatus string

const (
	ActionScheduled   ActionStatus = "scheduled"
	ActionDispatching ActionStatus = "dispatching"
	ActionSent        ActionStatus = "sent"
	ActionSkipped     ActionStatus = "skipped"
	ActionFailed      ActionStatus = "failed"
)

// IsTerminal reports whether the action has reached a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionSent || s == ActionSkipped || s == ActionFailed
}
