// internal/infra/httpapi/views.go
package httpapi

import (
	"time"

	"github.com/google/uuid"

	"outreach_cadence_engine/internal/app"
	"outreach_cadence_engine/internal/domain/run"
)

type runView struct {
	ID         uuid.UUID  `json:"id"`
	CadenceID  int64      `json:"cadence_id"`
	LeadID     int64      `json:"lead_id"`
	Status     run.Status `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

type actionView struct {
	ID          uuid.UUID        `json:"id"`
	ActionID    string           `json:"action_id"`
	DueAt       time.Time        `json:"due_at"`
	Status      run.ActionStatus `json:"status"`
	SentAt      *time.Time       `json:"sent_at,omitempty"`
	FailedAt    *time.Time       `json:"failed_at,omitempty"`
	ProviderRef string           `json:"provider_ref,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

type runDetailView struct {
	runView
	Actions []actionView `json:"actions"`
}

func runToView(rn *run.Run) runView {
	v := runView{
		ID:        rn.ID,
		CadenceID: rn.CadenceID,
		LeadID:    rn.LeadID,
		Status:    rn.Status,
		StartedAt: rn.StartedAt,
	}
	if rn.StoppedAt.Valid {
		t := rn.StoppedAt.Time
		v.StoppedAt = &t
	}
	if rn.StopReason.Valid {
		v.StopReason = rn.StopReason.String
	}
	return v
}

func runDetailToView(detail *app.RunDetail) runDetailView {
	v := runDetailView{
		runView: runToView(detail.Run),
		Actions: make([]actionView, 0, len(detail.Actions)),
	}
	for _, a := range detail.Actions {
		av := actionView{
			ID:       a.ID,
			ActionID: a.ActionID,
			DueAt:    a.DueAt,
			Status:   a.Status,
		}
		if a.SentAt.Valid {
			t := a.SentAt.Time
			av.SentAt = &t
		}
		if a.FailedAt.Valid {
			t := a.FailedAt.Time
			av.FailedAt = &t
		}
		if a.ProviderRef.Valid {
			av.ProviderRef = a.ProviderRef.String
		}
		if a.LastError.Valid {
			av.LastError = a.LastError.String
		}
		v.Actions = append(v.Actions, av)
	}
	return v
}
