package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/models"
)

// PaymentRepository handles payment rows and their escrow/deposit state
// machines.
type PaymentRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentRepository {
	return &PaymentRepository{db: db, logger: logger}
}

const paymentColumns = `id, booking_id, stripe_payment_intent_id, stripe_charge_id,
	subtotal, rental_amount, service_fee, tax, insurance_amount,
	deposit_amount, total_amount, currency,
	escrow_amount, escrow_status, deposit_status,
	payment_status, payout_status, failure_reason,
	deposit_released_at, payout_processed_at, escrow_transition_at,
	created_at, updated_at`

// GetByPaymentIntentID looks up a payment by the provider payment-intent
// reference. This is the webhook idempotency lookup: a non-nil result means
// the event has already been processed in some form.
func (r *PaymentRepository) GetByPaymentIntentID(intentID string) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE stripe_payment_intent_id = $1`

	err := r.db.Get(&payment, query, intentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by intent: %w", err)
	}
	return &payment, nil
}

// GetByBookingID retrieves the payment for a booking, or nil.
func (r *PaymentRepository) GetByBookingID(bookingID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1`

	err := r.db.Get(&payment, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by booking: %w", err)
	}
	return &payment, nil
}

// SetChargeID records the charge reference from a confirmed event if it has
// not been set yet. Safe under redelivery: a set value is never overwritten.
func (r *PaymentRepository) SetChargeID(intentID, chargeID string) error {
	query := `
		UPDATE payments SET
			stripe_charge_id = $2,
			payment_status = 'succeeded',
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND stripe_charge_id IS NULL`

	if _, err := r.db.Exec(query, intentID, chargeID); err != nil {
		return fmt.Errorf("failed to set charge id: %w", err)
	}
	return nil
}

// MarkFailed records a failed-payment outcome against an existing payment
// row (legacy provisional-pending path). Returns the number of rows updated;
// zero means no payment existed, which in the pay-first flow is the normal
// case and needs no compensating action.
func (r *PaymentRepository) MarkFailed(intentID, reason string) (int64, error) {
	query := `
		UPDATE payments SET
			payment_status = 'failed',
			failure_reason = $2,
			updated_at = NOW()
		WHERE stripe_payment_intent_id = $1
		AND payment_status != 'succeeded'`

	result, err := r.db.Exec(query, intentID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// CreateReconciliationRecord durably records a payment that succeeded at the
// provider but could not be materialized (availability race lost). The row
// has no booking and payment_status requires_reconciliation; the unique
// intent reference still anchors idempotency so redelivered events converge
// here instead of retrying materialization.
func (r *PaymentRepository) CreateReconciliationRecord(payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.BookingID = nil
	payment.PaymentStatus = models.PaymentStatusRequiresReconciliation

	query := `
		INSERT INTO payments (
			id, booking_id, stripe_payment_intent_id, stripe_charge_id,
			subtotal, rental_amount, service_fee, tax, insurance_amount,
			deposit_amount, total_amount, currency,
			escrow_amount, escrow_status, deposit_status,
			payment_status, payout_status, failure_reason,
			created_at, updated_at
		) VALUES ($1, NULL, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		ON CONFLICT (stripe_payment_intent_id) DO NOTHING`

	_, err := r.db.Exec(query,
		payment.ID, payment.StripePaymentIntentID, payment.StripeChargeID,
		payment.Subtotal, payment.RentalAmount, payment.ServiceFee, payment.Tax, payment.InsuranceAmount,
		payment.DepositAmount, payment.TotalAmount, payment.Currency,
		payment.EscrowAmount, payment.EscrowStatus, payment.DepositStatus,
		payment.PaymentStatus, payment.PayoutStatus, payment.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation record: %w", err)
	}
	return nil
}

// TransitionEscrow moves the escrow status under a row lock, rejecting
// moves the state machine does not allow.
func (r *PaymentRepository) TransitionEscrow(bookingID uuid.UUID, to models.EscrowStatus) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 FOR UPDATE`
	err = tx.Get(&payment, query, bookingID)
	if err == sql.ErrNoRows {
		return &models.NotFoundError{Resource: "payment", ID: bookingID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to lock payment: %w", err)
	}

	if !payment.EscrowStatus.CanTransition(to) {
		return &models.InvalidTransitionError{
			Entity: "escrow",
			From:   string(payment.EscrowStatus),
			To:     string(to),
		}
	}

	update := `
		UPDATE payments SET
			escrow_status = $2,
			escrow_transition_at = NOW(),
			payout_status = CASE WHEN $2 = 'released' THEN 'processing' ELSE payout_status END,
			updated_at = NOW()
		WHERE booking_id = $1`
	if _, err := tx.Exec(update, bookingID, to); err != nil {
		return fmt.Errorf("failed to update escrow status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit escrow transition: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"old_status": payment.EscrowStatus,
		"new_status": to,
	}).Info("Escrow status transitioned")

	return nil
}

// TransitionDeposit moves the deposit status under a row lock, rejecting
// moves the state machine does not allow (released cannot become claimed).
func (r *PaymentRepository) TransitionDeposit(bookingID uuid.UUID, to models.DepositStatus) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 FOR UPDATE`
	err = tx.Get(&payment, query, bookingID)
	if err == sql.ErrNoRows {
		return &models.NotFoundError{Resource: "payment", ID: bookingID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to lock payment: %w", err)
	}

	if payment.DepositAmount <= 0 {
		return &models.ValidationError{Field: "deposit", Reason: "booking has no damage deposit"}
	}

	if !payment.DepositStatus.CanTransition(to) {
		return &models.InvalidTransitionError{
			Entity: "deposit",
			From:   string(payment.DepositStatus),
			To:     string(to),
		}
	}

	update := `
		UPDATE payments SET
			deposit_status = $2,
			deposit_released_at = CASE WHEN $2 IN ('released', 'refunded') THEN NOW() ELSE deposit_released_at END,
			updated_at = NOW()
		WHERE booking_id = $1`
	if _, err := tx.Exec(update, bookingID, to); err != nil {
		return fmt.Errorf("failed to update deposit status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deposit transition: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"old_status": payment.DepositStatus,
		"new_status": to,
	}).Info("Deposit status transitioned")

	return nil
}

// ListRequiringReconciliation returns payments that succeeded at the
// provider but have no booking. These carry real captured money and feed
// the operational alert path.
func (r *PaymentRepository) ListRequiringReconciliation(limit int) ([]*models.Payment, error) {
	var payments []*models.Payment
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE payment_status = 'requires_reconciliation'
		ORDER BY created_at ASC
		LIMIT $1`

	if err := r.db.Select(&payments, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list reconciliation payments: %w", err)
	}
	return payments, nil
}
