package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/models"
)

// PaymentAuditRepository handles the immutable payment audit log.
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{db: db, logger: logger}
}

// Log creates a new payment audit entry.
// This should never fail silently - payment events must be logged.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, payment_intent_id,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, payload, raw_body, error_message,
			processing_time_ms, is_duplicate, ip_address, user_agent,
			created_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.PaymentIntentID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.Payload, audit.RawBody, audit.ErrorMessage,
		audit.ProcessingTimeMs, audit.IsDuplicate, audit.IPAddress, audit.UserAgent,
		audit.CreatedAt,
	)

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":        audit.EventType,
			"payment_intent_id": audit.PaymentIntentID,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	return nil
}

// GetByPaymentIntentID retrieves all audit entries for an intent reference.
func (r *PaymentAuditRepository) GetByPaymentIntentID(ctx context.Context, intentID string) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE payment_intent_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, intentID); err != nil {
		return nil, fmt.Errorf("failed to get audits by intent: %w", err)
	}
	return audits, nil
}

// GetAmountMismatches retrieves audits where the provider-reported amount
// did not match our records.
func (r *PaymentAuditRepository) GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE amounts_match = FALSE
		ORDER BY created_at DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &audits, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get amount mismatches: %w", err)
	}
	return audits, nil
}

// GetRecentByEventType retrieves recent events of a specific type.
func (r *PaymentAuditRepository) GetRecentByEventType(ctx context.Context, eventType models.PaymentEventType, hours, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE event_type = $1
		AND created_at > NOW() - INTERVAL '1 hour' * $2
		ORDER BY created_at DESC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &audits, query, eventType, hours, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	return audits, nil
}
