package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/models"
)

var (
	// ErrDatesConflict means the authoritative in-transaction availability
	// check found an overlapping pending/approved/active booking.
	ErrDatesConflict = errors.New("date range conflicts with an existing booking")

	// ErrAlreadyMaterialized means a payment row already exists for the
	// provider payment-intent reference. The unique constraint on
	// payments.stripe_payment_intent_id is the idempotency anchor.
	ErrAlreadyMaterialized = errors.New("payment intent already materialized")
)

// BookingRepository handles booking request persistence, including the
// availability conflict check and the atomic materialization of
// booking + payment + conversation on confirmed payment.
type BookingRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sqlx.DB, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{db: db, logger: logger}
}

const bookingColumns = `id, equipment_id, renter_id, start_date, end_date, status,
	total_amount, damage_deposit_amount, insurance_type, insurance_cost, message,
	created_at, updated_at, activated_at, completed_at`

// GetByID retrieves a booking request, or nil if it does not exist.
func (r *BookingRepository) GetByID(id uuid.UUID) (*models.BookingRequest, error) {
	var booking models.BookingRequest
	query := `SELECT ` + bookingColumns + ` FROM booking_requests WHERE id = $1`

	err := r.db.Get(&booking, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// CountConflicts counts pending/approved/active bookings for the equipment
// whose closed date interval overlaps [start, end]. excludeID, when non-nil,
// skips one booking (re-checking an existing booking on edit).
//
// This is the optimistic check; CreateApprovedWithPayment and CreatePending
// repeat it inside their transactions.
func (r *BookingRepository) CountConflicts(equipmentID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM booking_requests
		WHERE equipment_id = $1
		AND status = ANY($2)
		AND start_date <= $4
		AND end_date >= $3
		AND ($5::uuid IS NULL OR id != $5)`

	err := r.db.Get(&count, query, equipmentID, activeStatuses(), start, end, excludeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return count, nil
}

// CreatePending creates a booking in status pending (manual-approval flow,
// no upfront charge). The conflict check is re-evaluated inside the
// transaction under a per-equipment advisory lock so that two concurrent
// requests for overlapping dates cannot both insert.
func (r *BookingRepository) CreatePending(booking *models.BookingRequest) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockEquipment(tx, booking.EquipmentID); err != nil {
		return err
	}

	conflicts, err := countConflictsTx(tx, booking.EquipmentID, booking.StartDate, booking.EndDate, nil)
	if err != nil {
		return err
	}
	if conflicts > 0 {
		return ErrDatesConflict
	}

	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	booking.Status = models.BookingStatusPending

	if err := insertBookingTx(tx, booking); err != nil {
		return err
	}

	history := &models.BookingHistoryEntry{
		ID:        uuid.New(),
		BookingID: booking.ID,
		OldStatus: models.BookingStatusPending,
		NewStatus: models.BookingStatusPending,
		Actor:     "renter",
		Reason:    "booking requested",
	}
	if err := insertHistoryTx(tx, history); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// CreateApprovedWithPayment atomically materializes a confirmed payment:
// booking in status approved, payment row (the idempotency anchor),
// conversation between renter and owner, and one confirmation message. All
// writes are one transaction; if any fails, none is visible.
//
// Returns ErrAlreadyMaterialized when the payment-intent reference already
// has a payment row (duplicate webhook delivery or a concurrent
// materialization lost to us), and ErrDatesConflict when the availability
// race was lost to a different booking.
func (r *BookingRepository) CreateApprovedWithPayment(
	booking *models.BookingRequest,
	payment *models.Payment,
	ownerID uuid.UUID,
	greeting string,
) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serializes concurrent materializations for the same equipment; two
	// transactions for overlapping dates cannot both pass the re-check.
	if err := r.lockEquipment(tx, booking.EquipmentID); err != nil {
		return err
	}

	// A redelivery racing the first delivery's commit passes the caller's
	// idempotency lookup before any row is visible. Re-check the intent
	// reference under the lock so a same-intent race converges as
	// already-materialized instead of being mistaken for a dates conflict.
	var materialized bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM payments WHERE stripe_payment_intent_id = $1)`
	if err := tx.Get(&materialized, existsQuery, payment.StripePaymentIntentID); err != nil {
		return fmt.Errorf("failed to re-check payment intent: %w", err)
	}
	if materialized {
		return ErrAlreadyMaterialized
	}

	conflicts, err := countConflictsTx(tx, booking.EquipmentID, booking.StartDate, booking.EndDate, nil)
	if err != nil {
		return err
	}
	if conflicts > 0 {
		return ErrDatesConflict
	}

	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	booking.Status = models.BookingStatusApproved

	if err := insertBookingTx(tx, booking); err != nil {
		return err
	}

	history := &models.BookingHistoryEntry{
		ID:        uuid.New(),
		BookingID: booking.ID,
		OldStatus: models.BookingStatusPending,
		NewStatus: models.BookingStatusApproved,
		Actor:     "webhook",
		Reason:    "payment confirmed",
	}
	if err := insertHistoryTx(tx, history); err != nil {
		return err
	}

	// Payment row carries the unique payment-intent reference. A unique
	// violation here means another delivery of the same event already
	// materialized; the whole transaction rolls back and the caller treats
	// it as already processed.
	payment.BookingID = &booking.ID
	if err := insertPaymentTx(tx, payment); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMaterialized
		}
		return err
	}

	conversationID := uuid.New()
	convQuery := `
		INSERT INTO conversations (id, booking_id, renter_id, owner_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (booking_id) DO NOTHING`
	if _, err := tx.Exec(convQuery, conversationID, booking.ID, booking.RenterID, ownerID); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	// Reuse the existing conversation if one was already keyed to this
	// booking.
	if err := tx.Get(&conversationID, `SELECT id FROM conversations WHERE booking_id = $1`, booking.ID); err != nil {
		return fmt.Errorf("failed to resolve conversation: %w", err)
	}

	msgQuery := `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES ($1, $2, $3, $4, NOW())`
	if _, err := tx.Exec(msgQuery, uuid.New(), conversationID, booking.RenterID, greeting); err != nil {
		return fmt.Errorf("failed to create confirmation message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit materialization: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":        booking.ID,
		"equipment_id":      booking.EquipmentID,
		"payment_intent_id": payment.StripePaymentIntentID,
	}).Info("Booking materialized from confirmed payment")

	return nil
}

// Transition moves a booking to a new status and appends the history entry
// in the same transaction. The current row is locked so concurrent
// transitions serialize, and the move is validated against the state
// machine under that lock.
func (r *BookingRepository) Transition(bookingID uuid.UUID, to models.BookingStatus, actor, reason string) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var booking models.BookingRequest
	query := `SELECT ` + bookingColumns + ` FROM booking_requests WHERE id = $1 FOR UPDATE`
	err = tx.Get(&booking, query, bookingID)
	if err == sql.ErrNoRows {
		return &models.NotFoundError{Resource: "booking", ID: bookingID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to lock booking: %w", err)
	}

	if !booking.Status.CanTransition(to) {
		return &models.InvalidTransitionError{
			Entity: "booking",
			From:   string(booking.Status),
			To:     string(to),
		}
	}

	update := `
		UPDATE booking_requests SET
			status = $2,
			updated_at = NOW(),
			activated_at = CASE WHEN $2 = 'active' THEN NOW() ELSE activated_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1`
	if _, err := tx.Exec(update, bookingID, to); err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}

	history := &models.BookingHistoryEntry{
		ID:        uuid.New(),
		BookingID: bookingID,
		OldStatus: booking.Status,
		NewStatus: to,
		Actor:     actor,
		Reason:    reason,
	}
	if err := insertHistoryTx(tx, history); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"old_status": booking.Status,
		"new_status": to,
		"actor":      actor,
	}).Info("Booking status transitioned")

	return nil
}

// ListStalePending returns pending bookings created before the cutoff that
// have no associated payment. Payment-confirmed bookings skip pending in
// the pay-first flow, but the exclusion guards the legacy path regardless.
func (r *BookingRepository) ListStalePending(cutoff time.Time, limit int) ([]*models.BookingRequest, error) {
	var bookings []*models.BookingRequest
	query := `
		SELECT ` + bookingColumns + ` FROM booking_requests b
		WHERE b.status = 'pending'
		AND b.created_at < $1
		AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.booking_id = b.id)
		ORDER BY b.created_at ASC
		LIMIT $2`

	if err := r.db.Select(&bookings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale pending bookings: %w", err)
	}
	return bookings, nil
}

// ListByRenter returns a renter's bookings, newest first.
func (r *BookingRepository) ListByRenter(renterID uuid.UUID, limit, offset int) ([]*models.BookingRequest, error) {
	var bookings []*models.BookingRequest
	query := `
		SELECT ` + bookingColumns + ` FROM booking_requests
		WHERE renter_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.Select(&bookings, query, renterID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings by renter: %w", err)
	}
	return bookings, nil
}

// ListByEquipment returns bookings for one equipment item, newest first.
func (r *BookingRepository) ListByEquipment(equipmentID uuid.UUID, limit, offset int) ([]*models.BookingRequest, error) {
	var bookings []*models.BookingRequest
	query := `
		SELECT ` + bookingColumns + ` FROM booking_requests
		WHERE equipment_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.Select(&bookings, query, equipmentID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings by equipment: %w", err)
	}
	return bookings, nil
}

// GetHistory returns the append-only transition log for a booking.
func (r *BookingRepository) GetHistory(bookingID uuid.UUID) ([]*models.BookingHistoryEntry, error) {
	var entries []*models.BookingHistoryEntry
	query := `
		SELECT id, booking_id, old_status, new_status, actor, reason, created_at
		FROM booking_history
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.Select(&entries, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	return entries, nil
}

// ============================================================================
// TRANSACTION HELPERS
// ============================================================================

// lockEquipment takes a transaction-scoped advisory lock keyed on the
// equipment id, serializing availability re-checks and inserts for that
// equipment across concurrent transactions.
func (r *BookingRepository) lockEquipment(tx *sqlx.Tx, equipmentID uuid.UUID) error {
	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, equipmentID.String()); err != nil {
		return fmt.Errorf("failed to lock equipment: %w", err)
	}
	return nil
}

func countConflictsTx(tx *sqlx.Tx, equipmentID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM booking_requests
		WHERE equipment_id = $1
		AND status = ANY($2)
		AND start_date <= $4
		AND end_date >= $3
		AND ($5::uuid IS NULL OR id != $5)`

	if err := tx.Get(&count, query, equipmentID, activeStatuses(), start, end, excludeID); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return count, nil
}

func insertBookingTx(tx *sqlx.Tx, booking *models.BookingRequest) error {
	query := `
		INSERT INTO booking_requests (
			id, equipment_id, renter_id, start_date, end_date, status,
			total_amount, damage_deposit_amount, insurance_type, insurance_cost, message,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`

	_, err := tx.Exec(query,
		booking.ID, booking.EquipmentID, booking.RenterID,
		booking.StartDate, booking.EndDate, booking.Status,
		booking.TotalAmount, booking.DamageDepositAmount,
		booking.InsuranceType, booking.InsuranceCost, booking.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func insertHistoryTx(tx *sqlx.Tx, entry *models.BookingHistoryEntry) error {
	query := `
		INSERT INTO booking_history (id, booking_id, old_status, new_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := tx.Exec(query,
		entry.ID, entry.BookingID, entry.OldStatus, entry.NewStatus, entry.Actor, entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking history: %w", err)
	}
	return nil
}

func insertPaymentTx(tx *sqlx.Tx, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	query := `
		INSERT INTO payments (
			id, booking_id, stripe_payment_intent_id, stripe_charge_id,
			subtotal, rental_amount, service_fee, tax, insurance_amount,
			deposit_amount, total_amount, currency,
			escrow_amount, escrow_status, deposit_status,
			payment_status, payout_status, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())`

	_, err := tx.Exec(query,
		payment.ID, payment.BookingID, payment.StripePaymentIntentID, payment.StripeChargeID,
		payment.Subtotal, payment.RentalAmount, payment.ServiceFee, payment.Tax, payment.InsuranceAmount,
		payment.DepositAmount, payment.TotalAmount, payment.Currency,
		payment.EscrowAmount, payment.EscrowStatus, payment.DepositStatus,
		payment.PaymentStatus, payment.PayoutStatus, payment.FailureReason,
	)
	if err != nil {
		return err
	}
	return nil
}

func activeStatuses() pq.StringArray {
	statuses := make(pq.StringArray, len(models.ActiveBookingStatuses))
	for i, s := range models.ActiveBookingStatuses {
		statuses[i] = string(s)
	}
	return statuses
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
