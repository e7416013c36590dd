// internal/domain/channel/client.go
package channel

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"outreach_cadence_engine/internal/domain/cadence"
)

// Request carries everything a channel adapter needs to deliver one action.
type Request struct {
	RunID      uuid.UUID          `json:"run_id"`
	ActionID   string             `json:"action_id"`
	ActionType cadence.ActionType `json:"action_type"`
	LeadID     int64              `json:"lead_id"`
	Config     json.RawMessage    `json:"config,omitempty"`
}

// Result is the adapter's acknowledgement of a delivered action.
type Result struct {
	ProviderRef string `json:"provider_ref"`
}

// Client defines the synchronous outbound dispatch interface. Implementations
// wrap the external sms/email/call-task providers; the dispatcher bounds every
// call with a per-send timeout and treats an error as a terminal failure for
// that action.
type Client interface {
	Send(ctx context.Context, req Request) (Result, error)
}
