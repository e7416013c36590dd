// internal/infra/scheduler/scheduler.go
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"outreach_cadence_engine/internal/app"
)

// DispatchScheduler drives the dispatcher's ticks: a frequent poll that claims
// and sends due actions, and a slower sweep that releases abandoned claims.
type DispatchScheduler struct {
	cronEngine       *cron.Cron
	dispatcher       *app.DispatchService
	logger           *logrus.Entry
	cronSpecDispatch string
	cronSpecReclaim  string
}

func NewDispatchScheduler(
	dispatcher *app.DispatchService,
	logger *logrus.Entry,
	cronSpecDispatch string, // e.g. "@every 15s"
	cronSpecReclaim string, // e.g. "@every 1m"
) *DispatchScheduler {
	return &DispatchScheduler{
		cronEngine:       cron.New(cron.WithLocation(time.UTC)),
		dispatcher:       dispatcher,
		logger:           logger,
		cronSpecDispatch: cronSpecDispatch,
		cronSpecReclaim:  cronSpecReclaim,
	}
}

func (s *DispatchScheduler) Start() {
	s.logger.Info("Starting dispatch scheduler")

	_, err := s.cronEngine.AddFunc(s.cronSpecDispatch, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.dispatcher.DispatchDue(ctx); err != nil {
			s.logger.WithError(err).Error("Dispatch tick failed")
		}
	})
	if err != nil {
		s.logger.WithError(err).Fatal("Could not add dispatch cron job")
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecReclaim, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := s.dispatcher.ReclaimAbandoned(ctx); err != nil {
			s.logger.WithError(err).Error("Claim reclaim tick failed")
		}
	})
	if err != nil {
		s.logger.WithError(err).Fatal("Could not add reclaim cron job")
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"dispatch_spec": s.cronSpecDispatch,
		"reclaim_spec":  s.cronSpecReclaim,
	}).Info("Dispatch scheduler started")
}

func (s *DispatchScheduler) Stop() {
	s.logger.Info("Stopping dispatch scheduler")
	ctx := s.cronEngine.Stop() // stop scheduling, wait for running jobs
	<-ctx.Done()
	s.logger.Info("Dispatch scheduler gracefully stopped")
}
