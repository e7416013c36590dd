// internal/infra/database/postgres_run_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach_cadence_engine/internal/domain/event"
	"outreach_cadence_engine/internal/domain/run"
)

// Custom errors specific to the run repository
var ErrRunNotFound = fmt.Errorf("run not found")
var ErrDuplicateActiveRun = fmt.Errorf("non-terminal run already exists for this cadence and lead")
var ErrRunCapReached = fmt.Errorf("active run cap reached for this cadence")
var ErrClaimConflict = fmt.Errorf("scheduled action is no longer claimed by this worker")

type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

// CreateWithActions persists the run and its compiled schedule in a single
// transaction. The active-run cap is counted inside the transaction and the
// partial unique index runs_one_open_per_lead enforces at most one non-terminal
// run per (cadence_id, lead_id).
func (r *PostgresRunRepository) CreateWithActions(ctx context.Context, rn *run.Run, actions []*run.ScheduledAction, maxConcurrent *int) error {
	snapshot, err := json.Marshal(rn.Snapshot)
	if err != nil {
		return fmt.Errorf("error encoding definition snapshot: %w", err)
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for run creation: %w", err)
	}
	defer txn.Rollback()

	if maxConcurrent != nil {
		// The definition row is the serialization point for the cap: two
		// concurrent enrollments into the same cadence queue on this lock, so
		// the count below always sees the other's committed run.
		var defID int64
		lockQuery := `SELECT id FROM cadence_definitions WHERE id = $1 FOR UPDATE`
		if err := txn.QueryRowContext(ctx, lockQuery, rn.CadenceID).Scan(&defID); err != nil {
			return fmt.Errorf("error locking cadence definition for cap check: %w", err)
		}

		var active int
		countQuery := `SELECT COUNT(*) FROM runs
                        WHERE cadence_id = $1 AND status IN ('active', 'paused')`
		if err := txn.QueryRowContext(ctx, countQuery, rn.CadenceID).Scan(&active); err != nil {
			return fmt.Errorf("error counting active runs for cap check: %w", err)
		}
		if active >= *maxConcurrent {
			return ErrRunCapReached
		}
	}

	runQuery := `INSERT INTO runs (id, cadence_id, lead_id, status, definition_snapshot, started_at, stopped_at, stop_reason)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
                  RETURNING created_at, updated_at`
	err = txn.QueryRowContext(ctx, runQuery,
		rn.ID, rn.CadenceID, rn.LeadID, rn.Status, snapshot, rn.StartedAt, rn.StoppedAt, rn.StopReason,
	).Scan(&rn.CreatedAt, &rn.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "runs_one_open_per_lead") {
			return ErrDuplicateActiveRun
		}
		return fmt.Errorf("error creating run: %w", err)
	}

	if len(actions) > 0 {
		stmt, err := txn.PrepareContext(ctx, `INSERT INTO scheduled_actions (id, run_id, action_id, due_at, status)
                                              VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement for schedule insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range actions {
			if _, err := stmt.ExecContext(ctx, a.ID, a.RunID, a.ActionID, a.DueAt, a.Status); err != nil {
				return fmt.Errorf("error inserting scheduled action %s for run %s: %w", a.ActionID, rn.ID, err)
			}
		}
	}

	return txn.Commit()
}

const runColumns = `id, cadence_id, lead_id, status, definition_snapshot, started_at, stopped_at, stop_reason, created_at, updated_at`

func scanRun(scanner interface{ Scan(...any) error }) (*run.Run, error) {
	rn := run.Run{}
	var snapshot []byte
	err := scanner.Scan(
		&rn.ID, &rn.CadenceID, &rn.LeadID, &rn.Status, &snapshot,
		&rn.StartedAt, &rn.StoppedAt, &rn.StopReason, &rn.CreatedAt, &rn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &rn.Snapshot); err != nil {
		return nil, fmt.Errorf("error decoding definition snapshot for run %s: %w", rn.ID, err)
	}
	return &rn, nil
}

func (r *PostgresRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	rn, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("error getting run by ID: %w", err)
	}
	return rn, nil
}

func (r *PostgresRunRepository) listRuns(ctx context.Context, query string, args ...any) ([]*run.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*run.Run, 0)
	for rows.Next() {
		rn, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning run row: %w", err)
		}
		runs = append(runs, rn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

func (r *PostgresRunRepository) ListRunsByLead(ctx context.Context, leadID int64) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE lead_id = $1 ORDER BY started_at DESC`
	return r.listRuns(ctx, query, leadID)
}

func (r *PostgresRunRepository) ListOpenRunsByLead(ctx context.Context, leadID int64) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
               WHERE lead_id = $1 AND status IN ('active', 'paused') ORDER BY started_at`
	return r.listRuns(ctx, query, leadID)
}

func (r *PostgresRunRepository) UpdateRunStatus(ctx context.Context, id uuid.UUID, from, to run.Status) (bool, error) {
	query := `UPDATE runs SET status = $1, updated_at = NOW()
               WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("error transitioning run %s from %s to %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected for run transition: %w", err)
	}
	return n == 1, nil
}

// StopRun terminates a non-terminal run and cancels its still-scheduled
// actions atomically. Sent, failed and currently-dispatching actions are left
// untouched: a dispatch already past its claim point is allowed to finish.
func (r *PostgresRunRepository) StopRun(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for run stop: %w", err)
	}
	defer txn.Rollback()

	stopQuery := `UPDATE runs SET status = 'stopped', stopped_at = $1, stop_reason = $2, updated_at = NOW()
                   WHERE id = $3 AND status IN ('active', 'paused')`
	res, err := txn.ExecContext(ctx, stopQuery, at, reason, id)
	if err != nil {
		return false, fmt.Errorf("error stopping run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected for run stop: %w", err)
	}
	if n == 0 {
		return false, nil // already terminal, nothing to cancel
	}

	cancelQuery := `UPDATE scheduled_actions SET status = 'skipped', updated_at = NOW()
                     WHERE run_id = $1 AND status = 'scheduled'`
	if _, err := txn.ExecContext(ctx, cancelQuery, id); err != nil {
		return false, fmt.Errorf("error cancelling pending actions for run %s: %w", id, err)
	}

	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit run stop: %w", err)
	}
	return true, nil
}

const actionColumns = `id, run_id, action_id, due_at, status, claimed_at, sent_at, failed_at, provider_ref, last_error, created_at, updated_at`

func scanActions(rows *sql.Rows) ([]*run.ScheduledAction, error) {
	actions := make([]*run.ScheduledAction, 0)
	for rows.Next() {
		a := run.ScheduledAction{}
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.ActionID, &a.DueAt, &a.Status,
			&a.ClaimedAt, &a.SentAt, &a.FailedAt, &a.ProviderRef, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning scheduled action row: %w", err)
		}
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled action rows: %w", err)
	}
	return actions, nil
}

func (r *PostgresRunRepository) ListActionsByRun(ctx context.Context, runID uuid.UUID) ([]*run.ScheduledAction, error) {
	query := `SELECT ` + actionColumns + ` FROM scheduled_actions
               WHERE run_id = $1 ORDER BY due_at, created_at`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("error querying actions by run: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// ClaimDueActions claims up to limit due actions of active runs for this
// worker. FOR UPDATE SKIP LOCKED makes concurrent claims disjoint; the status
// guard in the outer UPDATE makes the transition itself conditional, so an
// action is claimed by exactly one worker.
func (r *PostgresRunRepository) ClaimDueActions(ctx context.Context, now time.Time, limit int) ([]*run.ScheduledAction, error) {
	query := `UPDATE scheduled_actions sa
               SET status = 'dispatching', claimed_at = $1, updated_at = NOW()
               FROM (
                   SELECT sa.id FROM scheduled_actions sa
                   JOIN runs r ON r.id = sa.run_id
                   WHERE sa.status = 'scheduled' AND sa.due_at <= $1 AND r.status = 'active'
                   ORDER BY sa.due_at
                   LIMIT $2
                   FOR UPDATE OF sa SKIP LOCKED
               ) due
               WHERE sa.id = due.id AND sa.status = 'scheduled'
               RETURNING ` + actionColumnsPrefixed
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error claiming due actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

const actionColumnsPrefixed = `sa.id, sa.run_id, sa.action_id, sa.due_at, sa.status, sa.claimed_at, sa.sent_at, sa.failed_at, sa.provider_ref, sa.last_error, sa.created_at, sa.updated_at`

func (r *PostgresRunRepository) MarkActionSent(ctx context.Context, id uuid.UUID, sentAt time.Time, providerRef string) error {
	query := `UPDATE scheduled_actions
               SET status = 'sent', sent_at = $1, provider_ref = $2, updated_at = NOW()
               WHERE id = $3 AND status = 'dispatching'`
	return r.finishAction(ctx, query, sentAt, providerRef, id)
}

func (r *PostgresRunRepository) MarkActionFailed(ctx context.Context, id uuid.UUID, failedAt time.Time, sendErr string) error {
	query := `UPDATE scheduled_actions
               SET status = 'failed', failed_at = $1, last_error = $2, updated_at = NOW()
               WHERE id = $3 AND status = 'dispatching'`
	return r.finishAction(ctx, query, failedAt, sendErr, id)
}

func (r *PostgresRunRepository) finishAction(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error finishing scheduled action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected for action finish: %w", err)
	}
	if n == 0 {
		return ErrClaimConflict
	}
	return nil
}

func (r *PostgresRunRepository) CountOpenActions(ctx context.Context, runID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM scheduled_actions
               WHERE run_id = $1 AND status IN ('scheduled', 'dispatching')`
	var open int
	if err := r.db.QueryRowContext(ctx, query, runID).Scan(&open); err != nil {
		return 0, fmt.Errorf("error counting open actions for run %s: %w", runID, err)
	}
	return open, nil
}

func (r *PostgresRunRepository) ReleaseAbandonedClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `UPDATE scheduled_actions
               SET status = 'scheduled', claimed_at = NULL, updated_at = NOW()
               WHERE status = 'dispatching' AND claimed_at < $1`
	res, err := r.db.ExecContext(ctx, query, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("error releasing abandoned claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading rows affected for claim release: %w", err)
	}
	return n, nil
}

func (r *PostgresRunRepository) RecordStopSignal(ctx context.Context, sig event.StopSignal) error {
	query := `INSERT INTO stop_signal_events (signal_type, lead_id, new_stage, payload, occurred_at)
               VALUES ($1, $2, $3, $4, $5)`
	var payload any
	if len(sig.Payload) > 0 {
		payload = []byte(sig.Payload)
	}
	_, err := r.db.ExecContext(ctx, query, sig.Type, sig.LeadID, sig.NewStage, payload, sig.OccurredAt)
	if err != nil {
		return fmt.Errorf("error recording stop signal audit row: %w", err)
	}
	return nil
}
