package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// PAYMENT STATUS ENUMS (match DB ENUMs)
// ============================================================================

// PaymentStatus is the provider-facing outcome of the charge.
type PaymentStatus string

const (
	PaymentStatusPending                PaymentStatus = "pending"
	PaymentStatusSucceeded              PaymentStatus = "succeeded"
	PaymentStatusFailed                 PaymentStatus = "failed"
	PaymentStatusRequiresReconciliation PaymentStatus = "requires_reconciliation" // Charged but unbookable
)

// EscrowStatus tracks the charged amount held by the marketplace until it is
// released to the owner or refunded to the renter.
type EscrowStatus string

const (
	EscrowStatusHeld      EscrowStatus = "held"
	EscrowStatusReleasing EscrowStatus = "releasing"
	EscrowStatusReleased  EscrowStatus = "released"
	EscrowStatusRefunded  EscrowStatus = "refunded"
)

// escrowTransitions: held -> releasing -> released, with a refunded terminal
// outcome reachable from held and releasing on cancellation.
var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusHeld:      {EscrowStatusReleasing, EscrowStatusRefunded},
	EscrowStatusReleasing: {EscrowStatusReleased, EscrowStatusRefunded},
}

// CanTransition reports whether the escrow status may move to target.
func (s EscrowStatus) CanTransition(to EscrowStatus) bool {
	for _, next := range escrowTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// DepositStatus tracks the separately held damage deposit.
type DepositStatus string

const (
	DepositStatusNone      DepositStatus = "none" // No deposit charged
	DepositStatusHeld      DepositStatus = "held"
	DepositStatusReleasing DepositStatus = "releasing"
	DepositStatusReleased  DepositStatus = "released"
	DepositStatusClaimed   DepositStatus = "claimed" // Damage claim resolved against the deposit
	DepositStatusRefunded  DepositStatus = "refunded"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusHeld:      {DepositStatusReleasing, DepositStatusClaimed, DepositStatusRefunded},
	DepositStatusReleasing: {DepositStatusReleased},
}

// CanTransition reports whether the deposit status may move to target.
// released cannot move to claimed; claim resolution is only accepted while
// the deposit is still held.
func (s DepositStatus) CanTransition(to DepositStatus) bool {
	for _, next := range depositTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PayoutStatus tracks the owner payout downstream of escrow release.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
)

// ============================================================================
// PAYMENT MODEL (payments table)
// ============================================================================

// Payment is the durable financial record for a materialized booking,
// one-to-one with a BookingRequest. The provider payment-intent reference is
// unique and serves as the idempotency key for webhook processing: the row
// is created exactly once, on the first successful-payment event for that
// reference.
type Payment struct {
	ID uuid.UUID `json:"id" db:"id"`

	// BookingID is nil only for succeeded-but-unbookable payments awaiting
	// reconciliation; a materialized payment always references its booking.
	BookingID *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`

	// External references
	StripePaymentIntentID string  `json:"stripe_payment_intent_id" db:"stripe_payment_intent_id"`
	StripeChargeID        *string `json:"stripe_charge_id,omitempty" db:"stripe_charge_id"`

	// Amount breakdown. total = rental + fee + tax + insurance + deposit
	// within one minor unit.
	Subtotal        float64 `json:"subtotal" db:"subtotal"`
	RentalAmount    float64 `json:"rental_amount" db:"rental_amount"`
	ServiceFee      float64 `json:"service_fee" db:"service_fee"`
	Tax             float64 `json:"tax" db:"tax"`
	InsuranceAmount float64 `json:"insurance_amount" db:"insurance_amount"`
	DepositAmount   float64 `json:"deposit_amount" db:"deposit_amount"`
	TotalAmount     float64 `json:"total_amount" db:"total_amount"`
	Currency        string  `json:"currency" db:"currency"`

	// Escrow / deposit state
	EscrowAmount  float64       `json:"escrow_amount" db:"escrow_amount"`
	EscrowStatus  EscrowStatus  `json:"escrow_status" db:"escrow_status"`
	DepositStatus DepositStatus `json:"deposit_status" db:"deposit_status"`

	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	PayoutStatus  PayoutStatus  `json:"payout_status" db:"payout_status"`
	FailureReason *string       `json:"failure_reason,omitempty" db:"failure_reason"`

	DepositReleasedAt  *time.Time `json:"deposit_released_at,omitempty" db:"deposit_released_at"`
	PayoutProcessedAt  *time.Time `json:"payout_processed_at,omitempty" db:"payout_processed_at"`
	EscrowTransitionAt *time.Time `json:"escrow_transition_at,omitempty" db:"escrow_transition_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// BreakdownConsistent verifies total = rental + fee + tax + insurance +
// deposit within one minor unit.
func (p *Payment) BreakdownConsistent() bool {
	sum := p.RentalAmount + p.ServiceFee + p.Tax + p.InsuranceAmount + p.DepositAmount
	diff := p.TotalAmount - sum
	if diff < 0 {
		diff = -diff
	}
	return diff <= 0.01
}

// ============================================================================
// CONVERSATION / CONFIRMATION MESSAGE
// ============================================================================

// Conversation is the booking-scoped thread between renter and owner.
// Messaging at large is an external concern; this core only guarantees the
// conversation and its confirmation message exist at most once per booking.
type Conversation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	BookingID uuid.UUID `json:"booking_id" db:"booking_id"`
	RenterID  uuid.UUID `json:"renter_id" db:"renter_id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Message is one message in a conversation.
type Message struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id" db:"sender_id"`
	Body           string    `json:"body" db:"body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// PaymentStatusResponse answers the payments-dashboard query for one booking.
type PaymentStatusResponse struct {
	BookingID     uuid.UUID     `json:"booking_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	EscrowStatus  EscrowStatus  `json:"escrow_status"`
	DepositStatus DepositStatus `json:"deposit_status"`
	EscrowAmount  float64       `json:"escrow_amount"`
	DepositAmount float64       `json:"deposit_amount"`
	Currency      string        `json:"currency"`
}
