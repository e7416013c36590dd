// internal/app/enrollment.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"outreach_cadence_engine/internal/domain/cadence"
	"outreach_cadence_engine/internal/domain/run"
	idb "outreach_cadence_engine/internal/infra/database"
)

// Custom application-level errors for the enrollment service
var ErrAlreadyEnrolled = fmt.Errorf("lead already has a non-terminal run for this cadence")
var ErrConcurrencyLimitReached = fmt.Errorf("cadence has reached its concurrent run limit")
var ErrRunFinished = fmt.Errorf("run is already in a terminal state")

// EnrollmentService owns the Run lifecycle: enrollment, pause/resume, stop and
// system-driven completion. It is the only component that creates Run and
// ScheduledAction rows.
type EnrollmentService struct {
	cadenceRepo cadence.Repository
	runRepo     run.Repository
	logger      *logrus.Entry
	now         func() time.Time
}

func NewEnrollmentService(cr cadence.Repository, rr run.Repository, logger *logrus.Entry) *EnrollmentService {
	return &EnrollmentService{
		cadenceRepo: cr,
		runRepo:     rr,
		logger:      logger,
		now:         time.Now,
	}
}

// RunDetail is a run together with its scheduled actions, for the admin
// query surface.
type RunDetail struct {
	Run     *run.Run
	Actions []*run.ScheduledAction
}

// Enroll snapshots the cadence definition, compiles the schedule for the lead
// and persists the run with its full schedule transactionally. A cadence with
// zero actions enrolls directly into a completed run.
func (s *EnrollmentService) Enroll(ctx context.Context, cadenceID, leadID int64, enrolledAt time.Time, leadTimezone string) (*run.Run, error) {
	if enrolledAt.IsZero() {
		enrolledAt = s.now()
	}

	def, err := s.cadenceRepo.GetByID(ctx, cadenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cadence %d for enrollment: %w", cadenceID, err)
	}

	schedule, err := CompileSchedule(def, enrolledAt, leadTimezone)
	if err != nil {
		return nil, err
	}

	rn := &run.Run{
		ID:        uuid.New(),
		CadenceID: def.ID,
		LeadID:    leadID,
		Status:    run.StatusActive,
		Snapshot:  *def,
		StartedAt: enrolledAt,
	}
	if len(schedule) == 0 {
		rn.Status = run.StatusCompleted
	}

	actions := make([]*run.ScheduledAction, 0, len(schedule))
	for _, entry := range schedule {
		actions = append(actions, &run.ScheduledAction{
			ID:       uuid.New(),
			RunID:    rn.ID,
			ActionID: entry.ActionID,
			DueAt:    entry.DueAt,
			Status:   run.ActionScheduled,
		})
	}

	if err := s.runRepo.CreateWithActions(ctx, rn, actions, def.MaxConcurrentRuns); err != nil {
		switch err {
		case idb.ErrDuplicateActiveRun:
			return nil, ErrAlreadyEnrolled
		case idb.ErrRunCapReached:
			return nil, ErrConcurrencyLimitReached
		}
		return nil, fmt.Errorf("failed to persist run for cadence %d, lead %d: %w", cadenceID, leadID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     rn.ID,
		"cadence_id": cadenceID,
		"lead_id":    leadID,
		"actions":    len(actions),
		"status":     rn.Status,
	}).Info("Lead enrolled in cadence")
	return rn, nil
}

// Stop terminates a run and cancels its still-scheduled actions. Idempotent:
// stopping a terminal (or unknown) run is a no-op.
func (s *EnrollmentService) Stop(ctx context.Context, runID uuid.UUID, reason string) error {
	stopped, err := s.runRepo.StopRun(ctx, runID, reason, s.now())
	if err != nil {
		return fmt.Errorf("failed to stop run %s: %w", runID, err)
	}
	entry := s.logger.WithFields(logrus.Fields{"run_id": runID, "reason": reason})
	if !stopped {
		entry.Debug("Stop requested for a run that is already terminal")
		return nil
	}
	entry.Info("Run stopped, pending actions cancelled")
	return nil
}

// Pause takes a run out of the dispatch pool without cancelling its actions.
// Idempotent for an already-paused run; ErrRunFinished for a terminal one.
func (s *EnrollmentService) Pause(ctx context.Context, runID uuid.UUID) error {
	ok, err := s.runRepo.UpdateRunStatus(ctx, runID, run.StatusActive, run.StatusPaused)
	if err != nil {
		return fmt.Errorf("failed to pause run %s: %w", runID, err)
	}
	if ok {
		s.logger.WithField("run_id", runID).Info("Run paused")
		return nil
	}

	rn, err := s.runRepo.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s after pause attempt: %w", runID, err)
	}
	if rn.Status == run.StatusPaused {
		return nil
	}
	return ErrRunFinished
}

// Resume re-admits a paused run to the dispatch pool. A run whose last action
// reached a terminal state while it was paused completes here.
func (s *EnrollmentService) Resume(ctx context.Context, runID uuid.UUID) error {
	ok, err := s.runRepo.UpdateRunStatus(ctx, runID, run.StatusPaused, run.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to resume run %s: %w", runID, err)
	}
	if !ok {
		rn, err := s.runRepo.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s after resume attempt: %w", runID, err)
		}
		if rn.Status != run.StatusActive {
			return ErrRunFinished
		}
	} else {
		s.logger.WithField("run_id", runID).Info("Run resumed")
	}
	return s.EvaluateCompletion(ctx, runID)
}

// EvaluateCompletion transitions an active run to completed once none of its
// actions remain scheduled or dispatching. Invoked by the dispatcher after
// every terminal action write and on resume.
func (s *EnrollmentService) EvaluateCompletion(ctx context.Context, runID uuid.UUID) error {
	open, err := s.runRepo.CountOpenActions(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to count open actions for run %s: %w", runID, err)
	}
	if open > 0 {
		return nil
	}
	completed, err := s.runRepo.UpdateRunStatus(ctx, runID, run.StatusActive, run.StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	if completed {
		s.logger.WithField("run_id", runID).Info("Run completed")
	}
	return nil
}

// GetRun returns a run with its scheduled actions.
func (s *EnrollmentService) GetRun(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	rn, err := s.runRepo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	actions, err := s.runRepo.ListActionsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions for run %s: %w", runID, err)
	}
	return &RunDetail{Run: rn, Actions: actions}, nil
}

// ListRunsForLead returns all of a lead's runs, newest first.
func (s *EnrollmentService) ListRunsForLead(ctx context.Context, leadID int64) ([]*run.Run, error) {
	return s.runRepo.ListRunsByLead(ctx, leadID)
}
