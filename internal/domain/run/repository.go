// internal/domain/run/repository.go
package run

import (
	"context"
	"time"

	"github.com/google/uuid"

	"outreach_cadence_engine/internal/domain/event"
)

// Repository owns all Run and ScheduledAction lifecycle mutations. Components
// receive it by injection; nothing else may write these rows.
type Repository interface {
	// CreateWithActions persists a run and its full compiled schedule in one
	// transaction (all-or-nothing). When maxConcurrent is non-nil the active-run
	// cap for the cadence is checked inside the same transaction. Returns
	// ErrDuplicateActiveRun if a non-terminal run already exists for the
	// (cadence, lead) pair and ErrRunCapReached when the cap is hit.
	CreateWithActions(ctx context.Context, r *Run, actions []*ScheduledAction, maxConcurrent *int) error

	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRunsByLead(ctx context.Context, leadID int64) ([]*Run, error)
	// ListOpenRunsByLead returns the lead's non-terminal (active or paused) runs.
	ListOpenRunsByLead(ctx context.Context, leadID int64) ([]*Run, error)

	// UpdateRunStatus transitions a run from one status to another, guarded by
	// the current status. Returns false when the run was not in `from`.
	UpdateRunStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	// StopRun marks a non-terminal run stopped and cancels (-> skipped) all of
	// its still-scheduled actions in one transaction. Returns false if the run
	// was already terminal.
	StopRun(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)

	ListActionsByRun(ctx context.Context, runID uuid.UUID) ([]*ScheduledAction, error)
	// ClaimDueActions atomically moves up to limit due actions belonging to
	// active runs from scheduled to dispatching and returns them. Two workers
	// can never claim the same action.
	ClaimDueActions(ctx context.Context, now time.Time, limit int) ([]*ScheduledAction, error)
	// MarkActionSent records a successful delivery. Guarded on the action still
	// being in dispatching; returns ErrClaimConflict otherwise.
	MarkActionSent(ctx context.Context, id uuid.UUID, sentAt time.Time, providerRef string) error
	// MarkActionFailed records a terminal delivery failure, same guard.
	MarkActionFailed(ctx context.Context, id uuid.UUID, failedAt time.Time, sendErr string) error
	// CountOpenActions returns how many of the run's actions are still
	// scheduled or dispatching.
	CountOpenActions(ctx context.Context, runID uuid.UUID) (int, error)
	// ReleaseAbandonedClaims returns actions stuck in dispatching since before
	// the cutoff back to scheduled, making them re-claimable after a worker
	// crash. Returns the number released.
	ReleaseAbandonedClaims(ctx context.Context, claimedBefore time.Time) (int64, error)

	// RecordStopSignal appends an inbound stop signal to the audit trail.
	RecordStopSignal(ctx context.Context, sig event.StopSignal) error
}
