package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"calnote/internal/apierr"
)

// cronLogger routes the scheduler's own messages into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// StartAutoSync schedules SyncNow at the configured interval. Any existing
// schedule is stopped first. It does nothing when auto-sync is disabled.
func (s *Syncer) StartAutoSync(ctx context.Context) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	s.stopLocked()

	settings := s.Settings()
	if !settings.AutoSync {
		s.logger.Debug("Auto-sync disabled, not scheduling.")
		return nil
	}
	if settings.Interval <= 0 {
		return apierr.Validation("sync interval", "must be positive")
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	schedule := "@every " + settings.Interval.String()
	if _, err := c.AddFunc(schedule, func() {
		if err := s.SyncNow(ctx); err != nil {
			s.logger.Debug("Scheduled sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule auto-sync: %w", err)
	}

	s.cron = c
	c.Start()

	s.mu.Lock()
	s.state.NextSync = s.now().Add(settings.Interval)
	s.mu.Unlock()

	s.logger.Info("Auto-sync started.", "interval", settings.Interval)
	return nil
}

// StopAutoSync cancels the schedule. A sync already running is not interrupted.
func (s *Syncer) StopAutoSync() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	s.stopLocked()
}

func (s *Syncer) stopLocked() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.logger.Debug("Auto-sync stopped.")
}

// RestartAutoSync re-reads the settings and reschedules.
func (s *Syncer) RestartAutoSync(ctx context.Context) error {
	return s.StartAutoSync(ctx)
}

// AutoSyncRunning reports whether a schedule is active.
func (s *Syncer) AutoSyncRunning() bool {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	return s.cron != nil
}
