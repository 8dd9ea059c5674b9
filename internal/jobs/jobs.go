// Package jobs runs the scheduled background work: threshold catch-up
// sweeps and session cleanup. Everything here is best-effort; a failed run
// is logged and retried at the next tick.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parlor-chat/parlor/internal/service"
)

const (
	// catchUpSchedule re-runs threshold evaluation for every organization
	// once a day, picking up alerts that were missed while the mailer or
	// the process itself was down.
	catchUpSchedule = "15 3 * * *"

	// sessionCleanupSchedule prunes expired sessions nightly.
	sessionCleanupSchedule = "45 3 * * *"

	jobTimeout = 10 * time.Minute
)

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	cron     *cron.Cron
	notifier service.NotifyService
	users    service.UserService
	logger   *slog.Logger
}

// New creates a scheduler with the standard job set registered. Call Start
// to begin running and Stop to drain.
func New(notifier service.NotifyService, users service.UserService, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		notifier: notifier,
		users:    users,
		logger:   logger,
	}

	if _, err := s.cron.AddFunc(catchUpSchedule, s.runCatchUp); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(sessionCleanupSchedule, s.runSessionCleanup); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins executing jobs on their schedules.
func (s *Scheduler) Start() {
	s.logger.Info("starting job scheduler",
		slog.String("catch_up", catchUpSchedule),
		slog.String("session_cleanup", sessionCleanupSchedule))
	s.cron.Start()
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping job scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runCatchUp() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := s.notifier.CatchUp(ctx); err != nil {
		s.logger.Error("threshold catch-up failed", slog.Any("error", err))
		return
	}
	s.logger.Info("threshold catch-up completed",
		slog.Duration("duration", time.Since(start)))
}

func (s *Scheduler) runSessionCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.users.DeleteExpiredSessions(ctx); err != nil {
		s.logger.Error("session cleanup failed", slog.Any("error", err))
	}
}
