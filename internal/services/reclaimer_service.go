package services

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/models"
)

// reclaimBatchSize bounds one sweep so a backlog cannot hold a long
// transaction chain.
const reclaimBatchSize = 200

// ReclaimerService cancels stale pending bookings so abandoned manual
// requests stop blocking the dates for other renters. Pay-first bookings are
// never pending, so only the manual-approval path feeds this.
type ReclaimerService struct {
	bookingRepo *database.BookingRepository
	config      *config.BookingConfig
	logger      *logrus.Logger

	// now is swapped in tests to pin the cutoff.
	now func() time.Time
}

// NewReclaimerService creates a new reclaimer service
func NewReclaimerService(bookingRepo *database.BookingRepository, cfg *config.BookingConfig, logger *logrus.Logger) *ReclaimerService {
	return &ReclaimerService{
		bookingRepo: bookingRepo,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// ReclaimStale cancels pending bookings older than the configured timeout
// that have no payment attached. One booking failing to transition does not
// abort the sweep; each row is its own transaction and a booking that moved
// concurrently just fails its state check and is skipped.
func (s *ReclaimerService) ReclaimStale() (int, error) {
	cutoff := s.now().Add(-time.Duration(s.config.PendingTimeoutMinutes) * time.Minute)

	stale, err := s.bookingRepo.ListStalePending(cutoff, reclaimBatchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	reclaimed := 0
	for _, booking := range stale {
		err := s.bookingRepo.Transition(
			booking.ID,
			models.BookingStatusCancelled,
			"system",
			"pending booking expired without approval",
		)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).
				Warn("Skipping stale booking that could not be reclaimed")
			continue
		}
		reclaimed++
	}

	s.logger.WithFields(logrus.Fields{
		"candidates": len(stale),
		"reclaimed":  reclaimed,
		"cutoff":     cutoff,
	}).Info("Stale pending sweep finished")

	return reclaimed, nil
}
