package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/models"
)

// EscrowService moves the held funds and damage deposits of completed
// bookings through their settlement state machines. All moves validate
// against the current state under a row lock; actual money movement at the
// provider is driven by a downstream payout processor and is out of scope
// here, we only track state.
type EscrowService struct {
	bookingRepo   *database.BookingRepository
	paymentRepo   *database.PaymentRepository
	equipmentRepo *database.EquipmentRepository
	auditRepo     *database.PaymentAuditRepository
	logger        *logrus.Logger
}

// NewEscrowService creates a new escrow service
func NewEscrowService(
	bookingRepo *database.BookingRepository,
	paymentRepo *database.PaymentRepository,
	equipmentRepo *database.EquipmentRepository,
	auditRepo *database.PaymentAuditRepository,
	logger *logrus.Logger,
) *EscrowService {
	return &EscrowService{
		bookingRepo:   bookingRepo,
		paymentRepo:   paymentRepo,
		equipmentRepo: equipmentRepo,
		auditRepo:     auditRepo,
		logger:        logger,
	}
}

// BeginEscrowRelease starts releasing held funds to the owner after a
// completed rental. Owner only; the booking must be completed.
func (s *EscrowService) BeginEscrowRelease(bookingID, actorID uuid.UUID) error {
	if err := s.requireOwner(bookingID, actorID, models.BookingStatusCompleted); err != nil {
		return err
	}
	return s.transitionEscrow(bookingID, models.EscrowStatusReleasing)
}

// FinishEscrowRelease records that the provider transfer to the owner went
// through. System actor (payout confirmation), not user-invokable.
func (s *EscrowService) FinishEscrowRelease(bookingID uuid.UUID) error {
	return s.transitionEscrow(bookingID, models.EscrowStatusReleased)
}

// BeginDepositRelease starts returning the damage deposit to the renter.
// Owner only; the booking must be completed (return inspection passed).
func (s *EscrowService) BeginDepositRelease(bookingID, actorID uuid.UUID) error {
	if err := s.requireOwner(bookingID, actorID, models.BookingStatusCompleted); err != nil {
		return err
	}
	return s.transitionDeposit(bookingID, models.DepositStatusReleasing)
}

// FinishDepositRelease records the deposit refund as settled.
func (s *EscrowService) FinishDepositRelease(bookingID uuid.UUID) error {
	return s.transitionDeposit(bookingID, models.DepositStatusReleased)
}

// ClaimDeposit resolves a damage claim against a still-held deposit. Owner
// only. A deposit that has started releasing can no longer be claimed; the
// state machine enforces that.
func (s *EscrowService) ClaimDeposit(bookingID, actorID uuid.UUID) error {
	if err := s.requireOwner(bookingID, actorID, models.BookingStatusCompleted); err != nil {
		return err
	}
	return s.transitionDeposit(bookingID, models.DepositStatusClaimed)
}

func (s *EscrowService) requireOwner(bookingID, actorID uuid.UUID, wantStatus models.BookingStatus) error {
	booking, err := s.bookingRepo.GetByID(bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}

	equipment, err := s.equipmentRepo.GetByID(booking.EquipmentID)
	if err != nil {
		return err
	}
	if equipment == nil {
		return &models.NotFoundError{Resource: "equipment", ID: booking.EquipmentID.String()}
	}
	if equipment.OwnerID != actorID {
		return ErrForbidden
	}

	if booking.Status != wantStatus {
		return &models.InvalidTransitionError{
			Entity: "booking",
			From:   string(booking.Status),
			To:     string(wantStatus),
		}
	}
	return nil
}

func (s *EscrowService) transitionEscrow(bookingID uuid.UUID, to models.EscrowStatus) error {
	if err := s.paymentRepo.TransitionEscrow(bookingID, to); err != nil {
		return err
	}
	s.logAudit(models.NewPaymentAudit(models.PaymentEventEscrowTransition, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetPaymentStatus(string(to)))
	return nil
}

func (s *EscrowService) transitionDeposit(bookingID uuid.UUID, to models.DepositStatus) error {
	if err := s.paymentRepo.TransitionDeposit(bookingID, to); err != nil {
		return err
	}
	s.logAudit(models.NewPaymentAudit(models.PaymentEventDepositTransition, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetPaymentStatus(string(to)))
	return nil
}

func (s *EscrowService) logAudit(audit *models.PaymentAudit) {
	if err := s.auditRepo.Log(context.Background(), audit); err != nil {
		s.logger.WithError(err).Error("Failed to write payment audit entry")
	}
}
