package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/config"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron         *cron.Cron
	reclaimerSvc *ReclaimerService
	config       *config.BookingConfig
	logger       *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(reclaimerSvc *ReclaimerService, cfg *config.BookingConfig, logger *logrus.Logger) *CronService {
	// Seconds precision so the sweep interval can run sub-minute in dev
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:         c,
		reclaimerSvc: reclaimerSvc,
		config:       cfg,
		logger:       logger,
	}
}

// Start schedules all background jobs and starts the scheduler.
func (s *CronService) Start() error {
	// Cron format: second minute hour day month weekday
	_, err := s.cron.AddFunc(s.config.ReclaimCronSpec, s.reclaimStaleJob)
	if err != nil {
		return fmt.Errorf("failed to schedule stale booking sweep: %w", err)
	}
	s.logger.WithField("schedule", s.config.ReclaimCronSpec).Info("Scheduled stale pending booking sweep")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// reclaimStaleJob runs one stale-pending sweep.
func (s *CronService) reclaimStaleJob() {
	startTime := time.Now()

	reclaimed, err := s.reclaimerSvc.ReclaimStale()
	if err != nil {
		s.logger.WithError(err).Error("Stale booking sweep failed")
		return
	}

	if reclaimed > 0 {
		s.logger.WithFields(logrus.Fields{
			"reclaimed": reclaimed,
			"duration":  time.Since(startTime).String(),
		}).Info("Stale booking sweep reclaimed bookings")
	}
}

// RunReclaimNow runs the sweep immediately (admin trigger).
func (s *CronService) RunReclaimNow() (int, error) {
	return s.reclaimerSvc.ReclaimStale()
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
		"jobs":      jobs,
	}
}
