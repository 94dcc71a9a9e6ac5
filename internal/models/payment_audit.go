package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB wraps a map for Postgres jsonb columns.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for JSONB")
	}
	return json.Unmarshal(bytes, j)
}

// PaymentEventType represents the type of payment event being audited
type PaymentEventType string

const (
	PaymentEventIntentCreated          PaymentEventType = "intent_created"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventWebhookRejected        PaymentEventType = "webhook_rejected"
	PaymentEventBookingMaterialized    PaymentEventType = "booking_materialized"
	PaymentEventPaymentFailed          PaymentEventType = "payment_failed"
	PaymentEventReconciliationRequired PaymentEventType = "reconciliation_required"
	PaymentEventRefundIssued           PaymentEventType = "refund_issued"
	PaymentEventRefundFailed           PaymentEventType = "refund_failed"
	PaymentEventEscrowTransition       PaymentEventType = "escrow_transition"
	PaymentEventDepositTransition      PaymentEventType = "deposit_transition"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend       PaymentEventSource = "backend"
	PaymentSourceStripeWebhook PaymentEventSource = "stripe_webhook"
	PaymentSourceStripeAPI     PaymentEventSource = "stripe_api"
	PaymentSourceSystem        PaymentEventSource = "system"
)

// PaymentAudit is an immutable audit log entry for payment events. Every
// provider interaction gets a row; duplicates are recorded and flagged
// rather than dropped.
type PaymentAudit struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking for mismatch detection
	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`

	// Raw payloads for dispute debugging
	Payload JSONB   `json:"payload,omitempty" db:"payload"`
	RawBody *string `json:"raw_body,omitempty" db:"raw_body"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool    `json:"is_duplicate" db:"is_duplicate"`
	IPAddress        *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent        *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking ID for the audit
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetPaymentIntent sets the provider payment-intent reference
func (pa *PaymentAudit) SetPaymentIntent(intentID string) *PaymentAudit {
	pa.PaymentIntentID = &intentID
	return pa
}

// SetAmounts records expected vs received amounts and returns whether they
// match within one minor unit.
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	diff := expected - received
	if diff < 0 {
		diff = -diff
	}
	match := diff <= 0.01
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the provider-reported payment status
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetRawBody stores the raw webhook body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetPayload sets the structured payload
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = JSONB(payload)
	return pa
}

// SetMetadata sets request metadata (IP, user agent)
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// MarkAsDuplicate flags this event as a redelivery
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
