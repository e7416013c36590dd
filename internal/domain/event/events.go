// internal/domain/event/events.go
package event

import (
	"context"
	"encoding/json"
	"time"
)

// SignalType enumerates the inbound CRM/channel events that can stop a run.
type SignalType string

const (
	SignalLeadRepliedEmail   SignalType = "lead_replied_email"
	SignalLeadRepliedSMS     SignalType = "lead_replied_sms"
	SignalIncomingCallLogged SignalType = "incoming_call_logged"
	SignalOutgoingCallLogged SignalType = "outgoing_call_logged"
	SignalMeetingBooked      SignalType = "meeting_booked"
	SignalLeadStageChange    SignalType = "lead_stage_change"
	SignalLeadUnsubscribed   SignalType = "lead_unsubscribed"
)

// StopSignal is an inbound event that may terminate active runs for a lead.
// Delivery is at-least-once; consumers must tolerate duplicates. NewStage is
// only set for SignalLeadStageChange.
type StopSignal struct {
	Type       SignalType      `json:"type"`
	LeadID     int64           `json:"lead_id"`
	NewStage   string          `json:"new_stage,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// LeadAssigned is the CRM trigger event that starts enrollment. CadenceID is
// optional: when nil, every cadence with a lead_assigned trigger is considered.
type LeadAssigned struct {
	LeadID           int64     `json:"lead_id"`
	CadenceID        *int64    `json:"cadence_id,omitempty"`
	AssignedToUserID int64     `json:"assigned_to_user_id"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Bus is the publish side of the event stream connecting the CRM ingestion
// surface to the engine's consumers.
type Bus interface {
	PublishLeadAssigned(ctx context.Context, evt LeadAssigned) error
	PublishStopSignal(ctx context.Context, sig StopSignal) error
}
