package models

import "fmt"

// ValidationError is malformed input, rejected synchronously and never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError means the referenced equipment or booking does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// DatesUnavailableError is returned when the requested range overlaps an
// existing pending/approved/active booking. User-facing; the renter must
// choose new dates, it is never retried automatically.
type DatesUnavailableError struct {
	EquipmentID string
	StartDate   string
	EndDate     string
}

func (e *DatesUnavailableError) Error() string {
	return fmt.Sprintf("equipment %s is not available for %s to %s: these dates were just booked by someone else", e.EquipmentID, e.StartDate, e.EndDate)
}

// SelfBookingError is returned when a renter attempts to book their own
// equipment.
type SelfBookingError struct {
	EquipmentID string
}

func (e *SelfBookingError) Error() string {
	return fmt.Sprintf("cannot book your own equipment %s", e.EquipmentID)
}

// InvalidAmountError is returned when the amount breakdown cannot be
// reconstructed (negative or non-finite subtotal).
type InvalidAmountError struct {
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return "invalid amount: " + e.Reason
}

// InvalidTransitionError is returned when a status change violates the
// one-directional state machine.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// AuthenticityError is a webhook whose signature did not verify. Logged and
// dropped; never acknowledged as success.
type AuthenticityError struct {
	Reason string
}

func (e *AuthenticityError) Error() string {
	return "webhook authenticity check failed: " + e.Reason
}

// ProviderError is a transient payment-provider failure, retryable by the
// caller or by the webhook sender.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ReconciliationError means a payment succeeded but the booking could not be
// materialized because the availability race was lost. Real money was
// captured with no corresponding booking, so this must reach the
// operational alert path and is never silently swallowed.
type ReconciliationError struct {
	PaymentIntentID string
	Reason          string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s requires reconciliation: %s", e.PaymentIntentID, e.Reason)
}
