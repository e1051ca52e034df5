package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// HoldCleaner deletes holds that can no longer be converted
type HoldCleaner interface {
	CleanupExpiredHolds(ctx context.Context) (int, error)
}

// RateLimitPruner deletes rate limit records outside every window
type RateLimitPruner interface {
	CleanupExpiredRateLimits(ctx context.Context) (int64, error)
}

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	cleaner  HoldCleaner
	limits   RateLimitPruner
	schedule string
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewCronService creates a new CronService. schedule is a six-field cron
// expression (seconds first); an empty schedule registers no jobs. limits may be nil.
func NewCronService(cleaner HoldCleaner, limits RateLimitPruner, schedule string, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:     cron.New(cron.WithSeconds()),
		cleaner:  cleaner,
		limits:   limits,
		schedule: schedule,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
}

// Start registers the jobs and starts the scheduler
func (s *CronService) Start() error {
	if s.schedule == "" {
		s.logger.Warn("Hold cleanup schedule is empty, expired holds will only be removed on demand")
		return nil
	}

	// "0 */5 * * * *" = every five minutes, on the minute
	if _, err := s.cron.AddFunc(s.schedule, s.cleanupHoldsJob); err != nil {
		return fmt.Errorf("failed to schedule hold cleanup job: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) cleanupHoldsJob() {
	if _, err := s.RunCleanupNow(context.Background()); err != nil {
		s.logger.WithError(err).Error("[CRON] Hold cleanup failed")
	}
	if s.limits == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.limits.CleanupExpiredRateLimits(ctx); err != nil {
		s.logger.WithError(err).Warn("[CRON] Rate limit cleanup failed")
	}
}

// RunCleanupNow runs the hold cleanup job immediately and returns the
// number of holds deleted
func (s *CronService) RunCleanupNow(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	deleted, err := s.cleaner.CleanupExpiredHolds(ctx)
	if err != nil {
		return deleted, err
	}

	s.logger.WithFields(logrus.Fields{
		"deleted":  deleted,
		"duration": time.Since(start).String(),
	}).Debug("[CRON] Hold cleanup finished")
	return deleted, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"schedule":  s.schedule,
		"jobs":      jobs,
	}
}
