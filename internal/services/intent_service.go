package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/models"
	"github.com/gearshare/rental-backend/internal/utils"
)

// IntentService issues payment intents for prospective bookings. This is the
// pay-first entry point: every precondition is checked up front, the full
// prospective booking rides in the intent metadata, and nothing is written to
// our tables until the provider confirms the charge.
type IntentService struct {
	bookingRepo   *database.BookingRepository
	equipmentRepo *database.EquipmentRepository
	auditRepo     *database.PaymentAuditRepository
	stripeService *StripeService
	config        *config.BookingConfig
	logger        *logrus.Logger
}

// NewIntentService creates a new intent service
func NewIntentService(
	bookingRepo *database.BookingRepository,
	equipmentRepo *database.EquipmentRepository,
	auditRepo *database.PaymentAuditRepository,
	stripeService *StripeService,
	cfg *config.BookingConfig,
	logger *logrus.Logger,
) *IntentService {
	return &IntentService{
		bookingRepo:   bookingRepo,
		equipmentRepo: equipmentRepo,
		auditRepo:     auditRepo,
		stripeService: stripeService,
		config:        cfg,
		logger:        logger,
	}
}

// RequestPayment validates a prospective booking and creates a payment intent
// for it. Preconditions run in order: dates parse and are ordered, the
// equipment exists and is rentable, the renter is not the owner, the range is
// free of conflicts, and the amount breakdown reconstructs. Any failure stops
// the chain before the provider is contacted.
//
// The availability check here is advisory. The authoritative check runs again
// inside the materialization transaction when the success webhook lands, so a
// renter who passes here can still lose the race while paying.
func (s *IntentService) RequestPayment(renterID uuid.UUID, req *models.RequestPaymentRequest, remoteIP, userAgent string) (*models.RequestPaymentResponse, error) {
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

	conflicts, err := s.bookingRepo.CountConflicts(equipmentID, start, end, nil)
	if err != nil {
		return nil, err
	}
	if conflicts > 0 {
		return nil, &models.DatesUnavailableError{
			EquipmentID: req.EquipmentID,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		}
	}

	if req.TotalAmount <= 0 {
		return nil, &models.InvalidAmountError{Reason: "total amount must be positive"}
	}
	breakdown, err := ComputeBreakdown(req.TotalAmount, req.InsuranceCost, req.DepositAmount, s.config.ServiceFeeRate)
	if err != nil {
		return nil, err
	}

	metadata := &BookingMetadata{
		EquipmentID:    equipmentID,
		RenterID:       renterID,
		OwnerID:        equipment.OwnerID,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		TotalAmount:    breakdown.TotalAmount,
		RentalAmount:   breakdown.RentalAmount,
		ServiceFee:     breakdown.ServiceFee,
		InsuranceType:  req.InsuranceType,
		InsuranceCost:  breakdown.InsuranceCost,
		DepositAmount:  breakdown.DepositAmount,
		Currency:       s.config.Currency,
		EquipmentTitle: equipment.Title,
	}
	if req.Message != nil {
		metadata.Message = *req.Message
	}

	intent, err := s.stripeService.CreatePaymentIntent(&PaymentIntentParams{
		Amount:      breakdown.TotalAmount,
		Currency:    s.config.Currency,
		Description: fmt.Sprintf("Rental of %s, %s to %s", equipment.Title, req.StartDate, req.EndDate),
		Metadata:    metadata.ToMap(),
	})
	if err != nil {
		return nil, err
	}

	device := utils.ParseUserAgent(userAgent)
	audit := models.NewPaymentAudit(models.PaymentEventIntentCreated, models.PaymentSourceBackend).
		SetPaymentIntent(intent.ID).
		SetPaymentStatus(string(models.PaymentStatusPending)).
		SetMetadata(remoteIP, userAgent).
		SetPayload(map[string]interface{}{
			"equipment_id": equipmentID.String(),
			"renter_id":    renterID.String(),
			"start_date":   req.StartDate,
			"end_date":     req.EndDate,
			"device_type":  device.DeviceType,
			"device_os":    device.OS,
			"browser":      device.Browser,
		})
	audit.SetAmounts(breakdown.TotalAmount, breakdown.TotalAmount, s.config.Currency)
	if err := s.auditRepo.Log(context.Background(), audit); err != nil {
		// Audit failure must not lose the intent the renter is about to pay.
		s.logger.WithError(err).WithField("payment_intent_id", intent.ID).
			Error("Failed to audit intent creation")
	}

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"equipment_id":      equipmentID,
		"renter_id":         renterID,
		"total_amount":      breakdown.TotalAmount,
	}).Info("Payment intent issued for prospective booking")

	return &models.RequestPaymentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Breakdown:    breakdown,
		Currency:     s.config.Currency,
	}, nil
}

// QuoteBreakdown recomputes the server-side money breakdown for a total
// without issuing an intent. Used by the client to render the split before
// the renter commits.
func (s *IntentService) QuoteBreakdown(totalAmount, insuranceCost, depositAmount float64) (models.MoneyBreakdown, error) {
	if totalAmount <= 0 {
		return models.MoneyBreakdown{}, &models.InvalidAmountError{Reason: "total amount must be positive"}
	}
	return ComputeBreakdown(totalAmount, insuranceCost, depositAmount, s.config.ServiceFeeRate)
}

func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := models.ParseBookingDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, &models.ValidationError{Field: "start_date", Reason: "expected YYYY-MM-DD"}
	}
	end, err := models.ParseBookingDate(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, &models.ValidationError{Field: "end_date", Reason: "expected YYYY-MM-DD"}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, &models.ValidationError{Field: "start_date", Reason: "start_date must not be after end_date"}
	}
	return start, end, nil
}
