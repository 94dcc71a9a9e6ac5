package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/models"
)

// WebhookOutcome classifies how an event was handled, for the HTTP layer's
// acknowledgement decision and for the audit trail.
type WebhookOutcome string

const (
	OutcomeMaterialized   WebhookOutcome = "materialized"    // Booking created from this event
	OutcomeDuplicate      WebhookOutcome = "duplicate"       // Intent already processed, converged
	OutcomeReconciliation WebhookOutcome = "reconciliation"  // Charged but race lost, flagged
	OutcomeFailedRecorded WebhookOutcome = "failed_recorded" // Failure event acknowledged
	OutcomeIgnored        WebhookOutcome = "ignored"         // Event type not handled
)

// WebhookService ingests provider events. Processing is idempotent: the
// unique payment-intent reference on the payments table anchors exactly-once
// materialization regardless of how many times an event is delivered.
type WebhookService struct {
	bookingRepo   *database.BookingRepository
	paymentRepo   *database.PaymentRepository
	auditRepo     *database.PaymentAuditRepository
	stripeService *StripeService
	config        *config.BookingConfig
	logger        *logrus.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	bookingRepo *database.BookingRepository,
	paymentRepo *database.PaymentRepository,
	auditRepo *database.PaymentAuditRepository,
	stripeService *StripeService,
	cfg *config.BookingConfig,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		bookingRepo:   bookingRepo,
		paymentRepo:   paymentRepo,
		auditRepo:     auditRepo,
		stripeService: stripeService,
		config:        cfg,
		logger:        logger,
	}
}

// ProcessEvent verifies and processes one raw webhook delivery.
//
// Verification fails closed: a bad signature is audited and rejected before
// any field of the payload is trusted. After that the flow splits on event
// type; anything unrecognized is acknowledged and ignored so the provider
// stops retrying it.
func (s *WebhookService) ProcessEvent(body []byte, signatureHeader, remoteIP, userAgent string) (WebhookOutcome, error) {
	started := time.Now()

	event, err := s.stripeService.VerifyAndParseEvent(body, signatureHeader)
	if err != nil {
		audit := models.NewPaymentAudit(models.PaymentEventWebhookRejected, models.PaymentSourceStripeWebhook).
			SetRawBody(string(body)).
			SetError(err.Error()).
			SetMetadata(remoteIP, userAgent).
			SetProcessingTime(started)
		s.logAudit(audit)

		s.logger.WithError(err).Warn("Webhook rejected")
		return "", err
	}

	log := s.logger.WithFields(logrus.Fields{
		"event_id":          event.ID,
		"event_type":        event.Type,
		"payment_intent_id": event.Data.PaymentIntentID,
	})

	switch event.Type {
	case EventPaymentSucceeded:
		outcome, err := s.handlePaymentSucceeded(event, body, remoteIP, userAgent, started)
		if err != nil {
			log.WithError(err).Error("Failed to process successful-payment event")
			return outcome, err
		}
		log.WithField("outcome", outcome).Info("Successful-payment event processed")
		return outcome, nil

	case EventPaymentFailed:
		if err := s.handlePaymentFailed(event, remoteIP, userAgent, started); err != nil {
			log.WithError(err).Error("Failed to process failed-payment event")
			return "", err
		}
		return OutcomeFailedRecorded, nil

	default:
		log.Debug("Ignoring unhandled webhook event type")
		return OutcomeIgnored, nil
	}
}

// handlePaymentSucceeded materializes the booking carried in the event
// metadata, or converges on whatever a previous delivery already did.
func (s *WebhookService) handlePaymentSucceeded(event *WebhookEvent, body []byte, remoteIP, userAgent string, started time.Time) (WebhookOutcome, error) {
	intentID := event.Data.PaymentIntentID

	// Idempotency lookup first. An existing payment row means a previous
	// delivery already ran to completion; at most top up the charge
	// reference, never touch the booking again.
	existing, err := s.paymentRepo.GetByPaymentIntentID(intentID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if event.Data.ChargeID != "" && existing.StripeChargeID == nil {
			if err := s.paymentRepo.SetChargeID(intentID, event.Data.ChargeID); err != nil {
				return "", err
			}
		}

		audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
			SetPaymentIntent(intentID).
			SetPaymentStatus(string(existing.PaymentStatus)).
			SetMetadata(remoteIP, userAgent).
			SetProcessingTime(started).
			MarkAsDuplicate()
		if existing.BookingID != nil {
			audit.SetBooking(*existing.BookingID)
		}
		audit.SetAmounts(existing.TotalAmount, event.Data.Amount, event.Data.Currency)
		s.logAudit(audit)

		return OutcomeDuplicate, nil
	}

	meta, err := ParseBookingMetadata(event.Data.Metadata)
	if err != nil {
		// A succeeded event without reconstructable metadata is captured
		// money we cannot book. Record it for manual reconciliation instead
		// of bouncing the delivery forever.
		s.logger.WithError(err).WithField("payment_intent_id", intentID).
			Error("Succeeded event has unusable metadata")
		return s.recordReconciliation(event, "metadata unusable: "+err.Error(), remoteIP, userAgent, started)
	}

	startDate, _ := models.ParseBookingDate(meta.StartDate)
	endDate, _ := models.ParseBookingDate(meta.EndDate)

	booking := &models.BookingRequest{
		EquipmentID:         meta.EquipmentID,
		RenterID:            meta.RenterID,
		StartDate:           startDate,
		EndDate:             endDate,
		TotalAmount:         meta.TotalAmount,
		DamageDepositAmount: meta.DepositAmount,
		InsuranceType:       meta.InsuranceType,
		InsuranceCost:       meta.InsuranceCost,
	}
	if meta.Message != "" {
		booking.Message = &meta.Message
	}

	payment := paymentFromMetadata(meta, event)

	greeting := confirmationMessage(meta)

	err = s.bookingRepo.CreateApprovedWithPayment(booking, payment, meta.OwnerID, greeting)
	switch {
	case err == nil:
		audit := models.NewPaymentAudit(models.PaymentEventBookingMaterialized, models.PaymentSourceStripeWebhook).
			SetBooking(booking.ID).
			SetPaymentIntent(intentID).
			SetPaymentStatus(string(models.PaymentStatusSucceeded)).
			SetMetadata(remoteIP, userAgent).
			SetProcessingTime(started)
		audit.SetAmounts(meta.TotalAmount, event.Data.Amount, event.Data.Currency)
		s.logAudit(audit)
		return OutcomeMaterialized, nil

	case errors.Is(err, database.ErrAlreadyMaterialized):
		// Concurrent delivery won the insert between our lookup and commit.
		// Same convergence as the lookup hit.
		audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
			SetPaymentIntent(intentID).
			SetMetadata(remoteIP, userAgent).
			SetProcessingTime(started).
			MarkAsDuplicate()
		s.logAudit(audit)
		return OutcomeDuplicate, nil

	case errors.Is(err, database.ErrDatesConflict):
		return s.recordReconciliation(event, "availability race lost after capture", remoteIP, userAgent, started)

	default:
		return "", err
	}
}

// recordReconciliation durably records a charged-but-unbookable payment and,
// when configured, issues an immediate compensating refund. The payment stays
// flagged requires_reconciliation either way so an operator reviews it;
// auto-refund only stops the renter's money from sitting in limbo meanwhile.
func (s *WebhookService) recordReconciliation(event *WebhookEvent, reason string, remoteIP, userAgent string, started time.Time) (WebhookOutcome, error) {
	intentID := event.Data.PaymentIntentID

	payment := &models.Payment{
		StripePaymentIntentID: intentID,
		TotalAmount:           event.Data.Amount,
		Subtotal:              event.Data.Amount,
		Currency:              event.Data.Currency,
		EscrowStatus:          models.EscrowStatusHeld,
		DepositStatus:         models.DepositStatusNone,
		PayoutStatus:          models.PayoutStatusPending,
	}
	if event.Data.ChargeID != "" {
		payment.StripeChargeID = &event.Data.ChargeID
	}
	if meta, err := ParseBookingMetadata(event.Data.Metadata); err == nil {
		payment.RentalAmount = meta.RentalAmount
		payment.ServiceFee = meta.ServiceFee
		payment.InsuranceAmount = meta.InsuranceCost
		payment.DepositAmount = meta.DepositAmount
		payment.TotalAmount = meta.TotalAmount
		payment.Subtotal = round2(meta.TotalAmount - meta.InsuranceCost - meta.DepositAmount)
		payment.EscrowAmount = meta.RentalAmount
		if meta.DepositAmount > 0 {
			payment.DepositStatus = models.DepositStatusHeld
		}
	}
	failureReason := reason
	payment.FailureReason = &failureReason

	if err := s.paymentRepo.CreateReconciliationRecord(payment); err != nil {
		return "", err
	}

	audit := models.NewPaymentAudit(models.PaymentEventReconciliationRequired, models.PaymentSourceStripeWebhook).
		SetPaymentIntent(intentID).
		SetPaymentStatus(string(models.PaymentStatusRequiresReconciliation)).
		SetError(reason).
		SetMetadata(remoteIP, userAgent).
		SetProcessingTime(started)
	s.logAudit(audit)

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": intentID,
		"reason":            reason,
	}).Error("Payment captured without a booking, reconciliation required")

	if s.config.AutoRefundOnLostRace {
		if err := s.stripeService.RefundPayment(intentID); err != nil {
			// Refund failure keeps the record flagged; the operator path
			// picks it up. Never fail the delivery over this.
			s.logger.WithError(err).WithField("payment_intent_id", intentID).
				Error("Compensating refund failed")
			s.logAudit(models.NewPaymentAudit(models.PaymentEventRefundFailed, models.PaymentSourceBackend).
				SetPaymentIntent(intentID).
				SetError(err.Error()))
		} else {
			s.logAudit(models.NewPaymentAudit(models.PaymentEventRefundIssued, models.PaymentSourceBackend).
				SetPaymentIntent(intentID))
		}
	}

	return OutcomeReconciliation, nil
}

// handlePaymentFailed records a failure outcome. In the pay-first flow no
// durable row exists for an unpaid intent, so usually there is nothing to
// update and the event is acknowledged as informational.
func (s *WebhookService) handlePaymentFailed(event *WebhookEvent, remoteIP, userAgent string, started time.Time) error {
	intentID := event.Data.PaymentIntentID
	reason := event.Data.FailureReason
	if reason == "" {
		reason = "payment failed"
	}

	rows, err := s.paymentRepo.MarkFailed(intentID, reason)
	if err != nil {
		return err
	}

	audit := models.NewPaymentAudit(models.PaymentEventPaymentFailed, models.PaymentSourceStripeWebhook).
		SetPaymentIntent(intentID).
		SetPaymentStatus(string(models.PaymentStatusFailed)).
		SetError(reason).
		SetMetadata(remoteIP, userAgent).
		SetProcessingTime(started)
	s.logAudit(audit)

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": intentID,
		"reason":            reason,
		"rows_updated":      rows,
	}).Info("Failed-payment event recorded")

	return nil
}

func (s *WebhookService) logAudit(audit *models.PaymentAudit) {
	if err := s.auditRepo.Log(context.Background(), audit); err != nil {
		s.logger.WithError(err).Error("Failed to write payment audit entry")
	}
}

// paymentFromMetadata builds the durable payment row for a materialized
// booking. Escrow opens held over the rental amount; the deposit is held
// separately when one was charged.
func paymentFromMetadata(meta *BookingMetadata, event *WebhookEvent) *models.Payment {
	payment := &models.Payment{
		StripePaymentIntentID: event.Data.PaymentIntentID,
		Subtotal:              round2(meta.TotalAmount - meta.InsuranceCost - meta.DepositAmount),
		RentalAmount:          meta.RentalAmount,
		ServiceFee:            meta.ServiceFee,
		InsuranceAmount:       meta.InsuranceCost,
		DepositAmount:         meta.DepositAmount,
		TotalAmount:           meta.TotalAmount,
		Currency:              meta.Currency,
		EscrowAmount:          meta.RentalAmount,
		EscrowStatus:          models.EscrowStatusHeld,
		DepositStatus:         models.DepositStatusNone,
		PaymentStatus:         models.PaymentStatusSucceeded,
		PayoutStatus:          models.PayoutStatusPending,
	}
	if meta.DepositAmount > 0 {
		payment.DepositStatus = models.DepositStatusHeld
	}
	if event.Data.ChargeID != "" {
		payment.StripeChargeID = &event.Data.ChargeID
	}
	return payment
}

// confirmationMessage is the renter's opening message in the booking
// conversation, written atomically with the booking itself.
func confirmationMessage(meta *BookingMetadata) string {
	start, _ := models.ParseBookingDate(meta.StartDate)
	end, _ := models.ParseBookingDate(meta.EndDate)
	return fmt.Sprintf(
		"Booking confirmed for %s, %s to %s. Total paid: %.2f %s.",
		meta.EquipmentTitle,
		start.Format("Jan 2, 2006"),
		end.Format("Jan 2, 2006"),
		meta.TotalAmount,
		meta.Currency,
	)
}
