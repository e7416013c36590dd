// In-memory fakes mirroring the Postgres repository semantics, shared by the
// service tests in this package.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach_cadence_engine/internal/domain/cadence"
	"outreach_cadence_engine/internal/domain/event"
	"outreach_cadence_engine/internal/domain/run"
	idb "outreach_cadence_engine/internal/infra/database"
)

type memCadenceRepo struct {
	mu   sync.Mutex
	defs map[int64]*cadence.Definition
}

func newMemCadenceRepo(defs ...*cadence.Definition) *memCadenceRepo {
	r := &memCadenceRepo{defs: make(map[int64]*cadence.Definition)}
	for _, d := range defs {
		r.defs[d.ID] = d
	}
	return r
}

func (r *memCadenceRepo) GetByID(_ context.Context, id int64) (*cadence.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, idb.ErrDefinitionNotFound
	}
	return def, nil
}

func (r *memCadenceRepo) ListByTriggerType(_ context.Context, t cadence.TriggerType) ([]*cadence.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]*cadence.Definition, 0)
	for _, d := range r.defs {
		if d.Trigger.Type == t {
			defs = append(defs, d)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

type memRunRepo struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*run.Run
	actions map[uuid.UUID]*run.ScheduledAction
	signals []event.StopSignal
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{
		runs:    make(map[uuid.UUID]*run.Run),
		actions: make(map[uuid.UUID]*run.ScheduledAction),
	}
}

func (r *memRunRepo) CreateWithActions(_ context.Context, rn *run.Run, actions []*run.ScheduledAction, maxConcurrent *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, existing := range r.runs {
		if existing.CadenceID != rn.CadenceID || existing.Status.IsTerminal() {
			continue
		}
		active++
		if existing.LeadID == rn.LeadID {
			return idb.ErrDuplicateActiveRun
		}
	}
	if maxConcurrent != nil && active >= *maxConcurrent {
		return idb.ErrRunCapReached
	}

	now := time.Now()
	rn.CreatedAt, rn.UpdatedAt = now, now
	r.runs[rn.ID] = rn
	for _, a := range actions {
		a.CreatedAt, a.UpdatedAt = now, now
		r.actions[a.ID] = a
	}
	return nil
}

func (r *memRunRepo) GetRun(_ context.Context, id uuid.UUID) (*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[id]
	if !ok {
		return nil, idb.ErrRunNotFound
	}
	return rn, nil
}

func (r *memRunRepo) ListRunsByLead(_ context.Context, leadID int64) ([]*run.Run, error) {
	return r.listRuns(leadID, false), nil
}

func (r *memRunRepo) ListOpenRunsByLead(_ context.Context, leadID int64) ([]*run.Run, error) {
	return r.listRuns(leadID, true), nil
}

func (r *memRunRepo) listRuns(leadID int64, openOnly bool) []*run.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := make([]*run.Run, 0)
	for _, rn := range r.runs {
		if rn.LeadID != leadID {
			continue
		}
		if openOnly && rn.Status.IsTerminal() {
			continue
		}
		runs = append(runs, rn)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

func (r *memRunRepo) UpdateRunStatus(_ context.Context, id uuid.UUID, from, to run.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[id]
	if !ok || rn.Status != from {
		return false, nil
	}
	rn.Status = to
	rn.UpdatedAt = time.Now()
	return true, nil
}

func (r *memRunRepo) StopRun(_ context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[id]
	if !ok || rn.Status.IsTerminal() {
		return false, nil
	}
	rn.Status = run.StatusStopped
	rn.StoppedAt.Time, rn.StoppedAt.Valid = at, true
	rn.StopReason.String, rn.StopReason.Valid = reason, true
	rn.UpdatedAt = time.Now()
	for _, a := range r.actions {
		if a.RunID == id && a.Status == run.ActionScheduled {
			a.Status = run.ActionSkipped
			a.UpdatedAt = time.Now()
		}
	}
	return true, nil
}

func (r *memRunRepo) ListActionsByRun(_ context.Context, runID uuid.UUID) ([]*run.ScheduledAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]*run.ScheduledAction, 0)
	for _, a := range r.actions {
		if a.RunID == runID {
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].DueAt.Before(actions[j].DueAt) })
	return actions, nil
}

func (r *memRunRepo) ClaimDueActions(_ context.Context, now time.Time, limit int) ([]*run.ScheduledAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := make([]*run.ScheduledAction, 0)
	for _, a := range r.actions {
		if a.Status != run.ActionScheduled || a.DueAt.After(now) {
			continue
		}
		rn, ok := r.runs[a.RunID]
		if !ok || rn.Status != run.StatusActive {
			continue
		}
		due = append(due, a)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, a := range due {
		a.Status = run.ActionDispatching
		a.ClaimedAt.Time, a.ClaimedAt.Valid = now, true
		a.UpdatedAt = time.Now()
	}
	return due, nil
}

func (r *memRunRepo) MarkActionSent(_ context.Context, id uuid.UUID, sentAt time.Time, providerRef string) error {
	return r.finishAction(id, run.ActionSent, sentAt, providerRef, "")
}

func (r *memRunRepo) MarkActionFailed(_ context.Context, id uuid.UUID, failedAt time.Time, sendErr string) error {
	return r.finishAction(id, run.ActionFailed, failedAt, "", sendErr)
}

func (r *memRunRepo) finishAction(id uuid.UUID, status run.ActionStatus, at time.Time, providerRef, sendErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok || a.Status != run.ActionDispatching {
		return idb.ErrClaimConflict
	}
	a.Status = status
	if status == run.ActionSent {
		a.SentAt.Time, a.SentAt.Valid = at, true
	} else {
		a.FailedAt.Time, a.FailedAt.Valid = at, true
	}
	if providerRef != "" {
		a.ProviderRef.String, a.ProviderRef.Valid = providerRef, true
	}
	if sendErr != "" {
		a.LastError.String, a.LastError.Valid = sendErr, true
	}
	a.UpdatedAt = time.Now()
	return nil
}

func (r *memRunRepo) CountOpenActions(_ context.Context, runID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	open := 0
	for _, a := range r.actions {
		if a.RunID == runID && !a.Status.IsTerminal() {
			open++
		}
	}
	return open, nil
}

func (r *memRunRepo) ReleaseAbandonedClaims(_ context.Context, claimedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for _, a := range r.actions {
		if a.Status == run.ActionDispatching && a.ClaimedAt.Valid && a.ClaimedAt.Time.Before(claimedBefore) {
			a.Status = run.ActionScheduled
			a.ClaimedAt.Valid = false
			a.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

func (r *memRunRepo) RecordStopSignal(_ context.Context, sig event.StopSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}
