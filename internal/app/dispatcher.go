// internal/app/dispatcher.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach_cadence_engine/internal/domain/channel"
	"outreach_cadence_engine/internal/domain/run"
	idb "outreach_cadence_engine/internal/infra/database"
)

// DispatchService claims due scheduled actions and hands them to the outbound
// channel client. Claims are atomic per action, so a pool of workers and even
// multiple engine instances can poll concurrently without double-sending.
type DispatchService struct {
	runRepo      run.Repository
	channels     channel.Client
	runs         *EnrollmentService
	logger       *logrus.Entry
	workers      int
	batchSize    int
	sendTimeout  time.Duration
	abandonAfter time.Duration
	now          func() time.Time
}

func NewDispatchService(
	rr run.Repository,
	channels channel.Client,
	runs *EnrollmentService,
	logger *logrus.Entry,
	workers int,
	batchSize int,
	sendTimeout time.Duration,
	abandonAfter time.Duration,
) *DispatchService {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &DispatchService{
		runRepo:      rr,
		channels:     channels,
		runs:         runs,
		logger:       logger,
		workers:      workers,
		batchSize:    batchSize,
		sendTimeout:  sendTimeout,
		abandonAfter: abandonAfter,
		now:          time.Now,
	}
}

// DispatchDue claims one batch of due actions of active runs and dispatches
// them across the worker pool. Adapter errors are recorded on the action and
// never propagate: a failed send is a terminal, reportable state, not a retry.
func (s *DispatchService) DispatchDue(ctx context.Context) error {
	claimed, err := s.runRepo.ClaimDueActions(ctx, s.now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due actions: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	s.logger.WithField("claimed", len(claimed)).Debug("Claimed due actions for dispatch")

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)
	for _, action := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(a *run.ScheduledAction) {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatchOne(ctx, a)
		}(action)
	}
	wg.Wait()
	return nil
}

func (s *DispatchService) dispatchOne(ctx context.Context, a *run.ScheduledAction) {
	entry := s.logger.WithFields(logrus.Fields{
		"run_id":    a.RunID,
		"action_id": a.ActionID,
	})

	rn, err := s.runRepo.GetRun(ctx, a.RunID)
	if err != nil {
		// Store errors are transient from this path's point of view. Leave
		// the claim in place; the abandoned-claim sweep returns the action to
		// the pool once the store recovers. Failed is reserved for the
		// channel send itself.
		entry.WithError(err).Error("Failed to load run for claimed action")
		return
	}

	act, ok := rn.Action(a.ActionID)
	if !ok {
		entry.Error("Claimed action is missing from the run's definition snapshot")
		s.finishFailed(ctx, a, fmt.Sprintf("action %s not present in definition snapshot", a.ActionID))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	result, err := s.channels.Send(callCtx, channel.Request{
		RunID:      rn.ID,
		ActionID:   act.ID,
		ActionType: act.Type,
		LeadID:     rn.LeadID,
		Config:     act.Config,
	})
	if err != nil {
		msg := fmt.Sprintf("channel delivery failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("dispatch timed out after %s: %v", s.sendTimeout, err)
		}
		entry.WithError(err).WithField("channel", act.Type).Warn("Action dispatch failed")
		s.finishFailed(ctx, a, msg)
		return
	}

	if err := s.runRepo.MarkActionSent(ctx, a.ID, s.now(), result.ProviderRef); err != nil {
		// A lost guard means the claim was reclaimed while we were sending;
		// concurrency-control noise, not an application error.
		if errors.Is(err, idb.ErrClaimConflict) {
			entry.Debug("Claim lost before sent could be recorded")
			return
		}
		entry.WithError(err).Error("Failed to record sent action")
		return
	}
	entry.WithFields(logrus.Fields{"channel": act.Type, "provider_ref": result.ProviderRef}).Info("Action dispatched")

	if err := s.runs.EvaluateCompletion(ctx, a.RunID); err != nil {
		entry.WithError(err).Error("Failed to re-evaluate run completion")
	}
}

func (s *DispatchService) finishFailed(ctx context.Context, a *run.ScheduledAction, sendErr string) {
	entry := s.logger.WithFields(logrus.Fields{"run_id": a.RunID, "action_id": a.ActionID})
	if err := s.runRepo.MarkActionFailed(ctx, a.ID, s.now(), sendErr); err != nil {
		if errors.Is(err, idb.ErrClaimConflict) {
			entry.Debug("Claim lost before failure could be recorded")
			return
		}
		entry.WithError(err).Error("Failed to record failed action")
		return
	}
	if err := s.runs.EvaluateCompletion(ctx, a.RunID); err != nil {
		entry.WithError(err).Error("Failed to re-evaluate run completion")
	}
}

// ReclaimAbandoned returns actions left in dispatching longer than the abandon
// threshold to the dispatch pool. A crashed worker's claims become re-claimable
// here; the threshold bounds the duplicate-send window.
func (s *DispatchService) ReclaimAbandoned(ctx context.Context) error {
	released, err := s.runRepo.ReleaseAbandonedClaims(ctx, s.now().Add(-s.abandonAfter))
	if err != nil {
		return fmt.Errorf("failed to release abandoned claims: %w", err)
	}
	if released > 0 {
		s.logger.WithField("released", released).Warn("Released abandoned dispatch claims")
	}
	return nil
}
