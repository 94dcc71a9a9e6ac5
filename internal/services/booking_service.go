package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/models"
)

// ErrForbidden means the caller holds no capability over the booking for the
// attempted action.
var ErrForbidden = errors.New("not allowed to act on this booking")

// BookingService drives the booking lifecycle: the manual-approval creation
// flow, owner/renter transitions, availability queries, and the compensating
// refund on cancellation of a paid booking.
type BookingService struct {
	bookingRepo   *database.BookingRepository
	paymentRepo   *database.PaymentRepository
	equipmentRepo *database.EquipmentRepository
	auditRepo     *database.PaymentAuditRepository
	stripeService *StripeService
	logger        *logrus.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(
	bookingRepo *database.BookingRepository,
	paymentRepo *database.PaymentRepository,
	equipmentRepo *database.EquipmentRepository,
	auditRepo *database.PaymentAuditRepository,
	stripeService *StripeService,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		bookingRepo:   bookingRepo,
		paymentRepo:   paymentRepo,
		equipmentRepo: equipmentRepo,
		auditRepo:     auditRepo,
		stripeService: stripeService,
		logger:        logger,
	}
}

// CreateBooking is the manual-approval flow: the booking starts pending with
// no upfront charge and waits for the owner. The conflict check repeats
// inside the insert transaction, so passing here is not a reservation.
func (s *BookingService) CreateBooking(renterID uuid.UUID, req *models.CreateBookingRequest) (*models.BookingRequest, error) {
	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	equipmentID, err := uuid.Parse(req.EquipmentID)
	if err != nil {
		return nil, &models.ValidationError{Field: "equipment_id", Reason: "must be a valid UUID"}
	}

	equipment, err := s.equipmentRepo.GetByID(equipmentID)
	if err != nil {
		return nil, err
	}
	if equipment == nil {
		return nil, &models.NotFoundError{Resource: "equipment", ID: req.EquipmentID}
	}
	if equipment.OwnerID == renterID {
		return nil, &models.SelfBookingError{EquipmentID: req.EquipmentID}
	}
	if !equipment.IsAvailable {
		return nil, &models.ValidationError{Field: "equipment_id", Reason: "equipment is not currently available for rent"}
	}
	if req.TotalAmount <= 0 {
		return nil, &models.InvalidAmountError{Reason: "total amount must be positive"}
	}

	booking := &models.BookingRequest{
		EquipmentID:         equipmentID,
		RenterID:            renterID,
		StartDate:           start,
		EndDate:             end,
		TotalAmount:         req.TotalAmount,
		DamageDepositAmount: req.DepositAmount,
		InsuranceType:       req.InsuranceType,
		InsuranceCost:       req.InsuranceCost,
		Message:             req.Message,
	}

	if err := s.bookingRepo.CreatePending(booking); err != nil {
		if errors.Is(err, database.ErrDatesConflict) {
			return nil, &models.DatesUnavailableError{
				EquipmentID: req.EquipmentID,
				StartDate:   req.StartDate,
				EndDate:     req.EndDate,
			}
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"equipment_id": equipmentID,
		"renter_id":    renterID,
	}).Info("Pending booking created")

	return booking, nil
}

// Approve moves a pending booking to approved. Owner only.
func (s *BookingService) Approve(bookingID, actorID uuid.UUID, reason string) error {
	_, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return err
	}
	if equipment.OwnerID != actorID {
		return ErrForbidden
	}
	if reason == "" {
		reason = "approved by owner"
	}
	return s.bookingRepo.Transition(bookingID, models.BookingStatusApproved, "owner", reason)
}

// Decline moves a pending booking to declined. Owner only.
func (s *BookingService) Decline(bookingID, actorID uuid.UUID, reason string) error {
	_, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return err
	}
	if equipment.OwnerID != actorID {
		return ErrForbidden
	}
	if reason == "" {
		reason = "declined by owner"
	}
	return s.bookingRepo.Transition(bookingID, models.BookingStatusDeclined, "owner", reason)
}

// Cancel moves a booking to cancelled. Renter or owner. A paid booking with
// escrow still held gets a full compensating refund; failure to refund does
// not undo the cancellation, it leaves the escrow held for the operator.
func (s *BookingService) Cancel(bookingID, actorID uuid.UUID, reason string) error {
	booking, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return err
	}

	var actor string
	switch actorID {
	case booking.RenterID:
		actor = "renter"
	case equipment.OwnerID:
		actor = "owner"
	default:
		return ErrForbidden
	}
	if reason == "" {
		reason = "cancelled by " + actor
	}

	if err := s.bookingRepo.Transition(bookingID, models.BookingStatusCancelled, actor, reason); err != nil {
		return err
	}

	return s.refundOnCancellation(bookingID)
}

// Activate marks the equipment handed over. Owner only, approved bookings.
func (s *BookingService) Activate(bookingID, actorID uuid.UUID) error {
	_, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return err
	}
	if equipment.OwnerID != actorID {
		return ErrForbidden
	}
	return s.bookingRepo.Transition(bookingID, models.BookingStatusActive, "owner", "equipment handed over")
}

// Complete marks the equipment returned. Owner only, active bookings. Escrow
// release is a separate step driven by EscrowService so disputes can hold it.
func (s *BookingService) Complete(bookingID, actorID uuid.UUID) error {
	_, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return err
	}
	if equipment.OwnerID != actorID {
		return ErrForbidden
	}
	return s.bookingRepo.Transition(bookingID, models.BookingStatusCompleted, "owner", "equipment returned")
}

// GetBooking returns a booking visible to its renter or the equipment owner.
func (s *BookingService) GetBooking(bookingID, actorID uuid.UUID) (*models.BookingRequest, error) {
	booking, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return nil, err
	}
	if actorID != booking.RenterID && actorID != equipment.OwnerID {
		return nil, ErrForbidden
	}
	return booking, nil
}

// GetHistory returns a booking's transition log, renter or owner only.
func (s *BookingService) GetHistory(bookingID, actorID uuid.UUID) ([]*models.BookingHistoryEntry, error) {
	booking, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return nil, err
	}
	if actorID != booking.RenterID && actorID != equipment.OwnerID {
		return nil, ErrForbidden
	}
	return s.bookingRepo.GetHistory(bookingID)
}

// ListForRenter returns the renter's own bookings.
func (s *BookingService) ListForRenter(renterID uuid.UUID, limit, offset int) ([]*models.BookingRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.bookingRepo.ListByRenter(renterID, limit, offset)
}

// ListForEquipment returns bookings for equipment the actor owns.
func (s *BookingService) ListForEquipment(equipmentID, actorID uuid.UUID, limit, offset int) ([]*models.BookingRequest, error) {
	equipment, err := s.equipmentRepo.GetByID(equipmentID)
	if err != nil {
		return nil, err
	}
	if equipment == nil {
		return nil, &models.NotFoundError{Resource: "equipment", ID: equipmentID.String()}
	}
	if equipment.OwnerID != actorID {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.bookingRepo.ListByEquipment(equipmentID, limit, offset)
}

// CheckAvailability answers whether a date range is free of conflicting
// bookings. Advisory: a positive answer can be invalidated by a concurrent
// booking before the renter acts on it.
func (s *BookingService) CheckAvailability(equipmentID uuid.UUID, startStr, endStr string) (*models.AvailabilityResponse, error) {
	start, end, err := parseDateRange(startStr, endStr)
	if err != nil {
		return nil, err
	}

	equipment, err := s.equipmentRepo.GetByID(equipmentID)
	if err != nil {
		return nil, err
	}
	if equipment == nil {
		return nil, &models.NotFoundError{Resource: "equipment", ID: equipmentID.String()}
	}

	available := equipment.IsAvailable
	if available {
		conflicts, err := s.bookingRepo.CountConflicts(equipmentID, start, end, nil)
		if err != nil {
			return nil, err
		}
		available = conflicts == 0
	}

	return &models.AvailabilityResponse{
		EquipmentID: equipmentID.String(),
		StartDate:   startStr,
		EndDate:     endStr,
		Available:   available,
	}, nil
}

// GetPaymentStatus returns the payment dashboard view for a booking.
func (s *BookingService) GetPaymentStatus(bookingID, actorID uuid.UUID) (*models.PaymentStatusResponse, error) {
	booking, equipment, err := s.loadBookingWithEquipment(bookingID)
	if err != nil {
		return nil, err
	}
	if actorID != booking.RenterID && actorID != equipment.OwnerID {
		return nil, ErrForbidden
	}

	payment, err := s.paymentRepo.GetByBookingID(bookingID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, &models.NotFoundError{Resource: "payment", ID: bookingID.String()}
	}

	return &models.PaymentStatusResponse{
		BookingID:     bookingID,
		PaymentStatus: payment.PaymentStatus,
		EscrowStatus:  payment.EscrowStatus,
		DepositStatus: payment.DepositStatus,
		EscrowAmount:  payment.EscrowAmount,
		DepositAmount: payment.DepositAmount,
		Currency:      payment.Currency,
	}, nil
}

// refundOnCancellation issues the compensating refund for a cancelled paid
// booking and moves escrow (and any held deposit) to refunded.
func (s *BookingService) refundOnCancellation(bookingID uuid.UUID) error {
	payment, err := s.paymentRepo.GetByBookingID(bookingID)
	if err != nil {
		return err
	}
	if payment == nil || payment.EscrowStatus != models.EscrowStatusHeld {
		return nil // Unpaid booking, or escrow already settled
	}

	if err := s.stripeService.RefundPayment(payment.StripePaymentIntentID); err != nil {
		s.logger.WithError(err).WithField("booking_id", bookingID).
			Error("Refund on cancellation failed, escrow left held")
		s.logAudit(models.NewPaymentAudit(models.PaymentEventRefundFailed, models.PaymentSourceBackend).
			SetBooking(bookingID).
			SetPaymentIntent(payment.StripePaymentIntentID).
			SetError(err.Error()))
		return fmt.Errorf("booking cancelled but refund failed: %w", err)
	}

	if err := s.paymentRepo.TransitionEscrow(bookingID, models.EscrowStatusRefunded); err != nil {
		return err
	}
	if payment.DepositStatus == models.DepositStatusHeld {
		if err := s.paymentRepo.TransitionDeposit(bookingID, models.DepositStatusRefunded); err != nil {
			return err
		}
	}

	s.logAudit(models.NewPaymentAudit(models.PaymentEventRefundIssued, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetPaymentIntent(payment.StripePaymentIntentID).
		SetPaymentStatus(string(payment.PaymentStatus)))

	s.logger.WithFields(logrus.Fields{
		"booking_id":        bookingID,
		"payment_intent_id": payment.StripePaymentIntentID,
	}).Info("Cancelled booking refunded")

	return nil
}

func (s *BookingService) loadBookingWithEquipment(bookingID uuid.UUID) (*models.BookingRequest, *models.Equipment, error) {
	booking, err := s.bookingRepo.GetByID(bookingID)
	if err != nil {
		return nil, nil, err
	}
	if booking == nil {
		return nil, nil, &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}

	equipment, err := s.equipmentRepo.GetByID(booking.EquipmentID)
	if err != nil {
		return nil, nil, err
	}
	if equipment == nil {
		return nil, nil, &models.NotFoundError{Resource: "equipment", ID: booking.EquipmentID.String()}
	}
	return booking, equipment, nil
}

func (s *BookingService) logAudit(audit *models.PaymentAudit) {
	if err := s.auditRepo.Log(context.Background(), audit); err != nil {
		s.logger.WithError(err).Error("Failed to write payment audit entry")
	}
}
