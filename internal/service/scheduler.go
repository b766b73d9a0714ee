package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "classagenda/internal/log"
)

const refreshTimeout = 2 * time.Minute

type scheduler struct {
	cron   *cron.Cron
	cancel context.CancelFunc
}

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// Start runs Refresh on the given cron schedule until ctx is done or Stop
// is called. Runs that would overlap a still-running refresh are skipped.
func (s *Service) Start(ctx context.Context, spec string, loc *time.Location) error {
	if spec == "" {
		return errors.New("service: empty refresh schedule")
	}
	if loc == nil {
		loc = time.Local
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return errors.New("service: scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		refreshCtx, cancelRefresh := context.WithTimeout(runCtx, refreshTimeout)
		defer cancelRefresh()
		if err := s.Refresh(refreshCtx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("service: invalid refresh schedule %q: %w", spec, err)
	}

	c.Start()
	sch := &scheduler{cron: c, cancel: cancel}
	s.scheduler = sch
	appLog.Info("refresh scheduler started", "schedule", spec, "timezone", loc.String())

	go func() {
		<-runCtx.Done()
		s.stopScheduler(sch)
	}()
	return nil
}

// Stop halts the scheduler and waits for a running refresh to finish.
func (s *Service) Stop() {
	s.mu.RLock()
	sch := s.scheduler
	s.mu.RUnlock()
	s.stopScheduler(sch)
}

// stopScheduler stops sch if it is still the running scheduler.
func (s *Service) stopScheduler(sch *scheduler) {
	if sch == nil {
		return
	}
	s.mu.Lock()
	if s.scheduler != sch {
		s.mu.Unlock()
		return
	}
	s.scheduler = nil
	s.mu.Unlock()

	sch.cancel()
	<-sch.cron.Stop().Done()
	appLog.Info("refresh scheduler stopped")
}
