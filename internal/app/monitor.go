// internal/app/monitor.go
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"outreach_cadence_engine/internal/domain/cadence"
	"outreach_cadence_engine/internal/domain/event"
	"outreach_cadence_engine/internal/domain/run"
)

// StopMonitor consumes inbound CRM/channel events. Stop signals are matched
// against each open run's snapshot stop-condition config; lead-assigned
// trigger events fan out into enrollments. Both paths tolerate at-least-once
// delivery: stopping a terminal run and re-enrolling an enrolled lead are
// no-ops.
type StopMonitor struct {
	cadenceRepo cadence.Repository
	runRepo     run.Repository
	runs        *EnrollmentService
	logger      *logrus.Entry
}

func NewStopMonitor(cr cadence.Repository, rr run.Repository, runs *EnrollmentService, logger *logrus.Entry) *StopMonitor {
	return &StopMonitor{
		cadenceRepo: cr,
		runRepo:     rr,
		runs:        runs,
		logger:      logger,
	}
}

// HandleStopSignal stops every open run of the lead whose stop-condition set
// matches the signal. Runs are handled independently: one failing stop never
// prevents the others.
func (m *StopMonitor) HandleStopSignal(ctx context.Context, sig event.StopSignal) error {
	entry := m.logger.WithFields(logrus.Fields{
		"signal_type": sig.Type,
		"lead_id":     sig.LeadID,
	})
	entry.Debug("Stop signal received")

	if err := m.runRepo.RecordStopSignal(ctx, sig); err != nil {
		entry.WithError(err).Error("Failed to record stop signal audit row")
	}

	openRuns, err := m.runRepo.ListOpenRunsByLead(ctx, sig.LeadID)
	if err != nil {
		return fmt.Errorf("failed to list open runs for lead %d: %w", sig.LeadID, err)
	}

	var firstErr error
	for _, rn := range openRuns {
		if !rn.Snapshot.StopConditions.Matches(sig) {
			continue
		}
		if err := m.runs.Stop(ctx, rn.ID, string(sig.Type)); err != nil {
			entry.WithError(err).WithField("run_id", rn.ID).Error("Failed to stop run for matched signal")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entry.WithField("run_id", rn.ID).Info("Run stopped by stop signal")
	}
	return firstErr
}

// HandleLeadAssigned resolves the cadences a lead-assignment triggers and
// enrolls the lead in each. When the event names a cadence only that one is
// considered; otherwise every definition with a lead_assigned trigger is.
// AlreadyEnrolled and ConcurrencyLimitReached outcomes are dropped per policy,
// not retried.
func (m *StopMonitor) HandleLeadAssigned(ctx context.Context, evt event.LeadAssigned) error {
	entry := m.logger.WithFields(logrus.Fields{
		"lead_id":     evt.LeadID,
		"assigned_to": evt.AssignedToUserID,
	})
	entry.Debug("Lead assignment received")

	var defs []*cadence.Definition
	if evt.CadenceID != nil {
		def, err := m.cadenceRepo.GetByID(ctx, *evt.CadenceID)
		if err != nil {
			return fmt.Errorf("failed to load cadence %d for lead assignment: %w", *evt.CadenceID, err)
		}
		defs = []*cadence.Definition{def}
	} else {
		var err error
		defs, err = m.cadenceRepo.ListByTriggerType(ctx, cadence.TriggerLeadAssigned)
		if err != nil {
			return fmt.Errorf("failed to list lead_assigned cadences: %w", err)
		}
	}

	var firstErr error
	for _, def := range defs {
		defEntry := entry.WithField("cadence_id", def.ID)
		if !def.Trigger.AllowsAssignee(evt.AssignedToUserID) {
			defEntry.Debug("Assignee does not match trigger restriction, skipping enrollment")
			continue
		}
		_, err := m.runs.Enroll(ctx, def.ID, evt.LeadID, evt.OccurredAt, "")
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyEnrolled):
			defEntry.Info("Lead already enrolled, dropping trigger")
		case errors.Is(err, ErrConcurrencyLimitReached):
			defEntry.Info("Cadence run cap reached, dropping trigger")
		default:
			defEntry.WithError(err).Error("Failed to enroll lead from trigger")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
