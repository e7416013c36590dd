// internal/domain/run/run.go
package run

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"outreach_cadence_engine/internal/domain/cadence"
)

// Run is one lead's live instantiation of a cadence, from enrollment to
// termination. Corresponds to the 'runs' table. Snapshot is the cadence
// definition as of enrollment; it is never re-read mid-run.
type Run struct {
	ID         uuid.UUID
	CadenceID  int64
	LeadID     int64
	Status     Status
	Snapshot   cadence.Definition
	StartedAt  time.Time
	StoppedAt  sql.NullTime
	StopReason sql.NullString
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ScheduledAction is a single concrete, timestamped unit of future work
// derived from a cadence action. Corresponds to the 'scheduled_actions' table.
// DueAt is an absolute, timezone-resolved instant computed once at enrollment.
type ScheduledAction struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	ActionID    string
	DueAt       time.Time
	Status      ActionStatus
	ClaimedAt   sql.NullTime
	SentAt      sql.NullTime
	FailedAt    sql.NullTime
	ProviderRef sql.NullString
	LastError   sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Action looks up the snapshot action this scheduled row was derived from.
func (r *Run) Action(actionID string) (cadence.Action, bool) {
	for _, day := range r.Snapshot.Days {
		for _, a := range day.Actions {
			if a.ID == actionID {
				return a, true
			}
		}
	}
	return cadence.Action{}, false
}
