// internal/domain/cadence/kinds.go
package cadence

// ActionType identifies the outbound channel an action is delivered through.
type ActionType string

const (
	ActionSMS      ActionType = "sms"
	ActionEmail    ActionType = "email"
	ActionCallTask ActionType = "call_task"
)

// ScheduleRuleKind identifies how an action's due time is derived.
type ScheduleRuleKind string

const (
	RuleImmediately   ScheduleRuleKind = "immediately"
	RuleTimeOfDay     ScheduleRuleKind = "time_of_day"
	RuleAfterPrevious ScheduleRuleKind = "after_previous"
)

// TriggerType identifies which CRM event enrolls a lead into a cadence.
type TriggerType string

const (
	TriggerLeadAssigned TriggerType = "lead_assigned"
	TriggerManual       TriggerType = "manual"
)
