package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING REQUEST STATUS (matches DB ENUM: booking_status)
// ============================================================================

// BookingStatus represents the status of a booking request
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Awaiting owner approval (manual flow)
	BookingStatusApproved  BookingStatus = "approved"  // Approved by owner or materialized from payment
	BookingStatusDeclined  BookingStatus = "declined"  // Owner rejected
	BookingStatusCancelled BookingStatus = "cancelled" // Renter/owner cancelled, or reclaimed on timeout
	BookingStatusActive    BookingStatus = "active"    // Equipment handed over (pickup inspection)
	BookingStatusCompleted BookingStatus = "completed" // Equipment returned (return inspection)
)

// legalTransitions lists the allowed status moves. Transitions are
// one-directional; declined, cancelled and completed are terminal.
var legalTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:  {BookingStatusApproved, BookingStatusDeclined, BookingStatusCancelled},
	BookingStatusApproved: {BookingStatusActive, BookingStatusCancelled},
	BookingStatusActive:   {BookingStatusCompleted},
}

// CanTransition reports whether a booking may move from its current status
// to the target status.
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s BookingStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// ActiveBookingStatuses are the statuses that block a date range. Only
// bookings in one of these statuses participate in conflict checks.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusApproved,
	BookingStatusActive,
}

// ============================================================================
// BOOKING REQUEST MODEL (booking_requests table)
// ============================================================================

// BookingRequest represents a renter's reservation of equipment for a date
// range. Rows are never deleted; terminal states are retained for audit.
type BookingRequest struct {
	ID          uuid.UUID `json:"id" db:"id"`
	EquipmentID uuid.UUID `json:"equipment_id" db:"equipment_id"`
	RenterID    uuid.UUID `json:"renter_id" db:"renter_id"`

	StartDate time.Time     `json:"start_date" db:"start_date"` // Inclusive calendar date
	EndDate   time.Time     `json:"end_date" db:"end_date"`     // Inclusive calendar date
	Status    BookingStatus `json:"status" db:"status"`

	TotalAmount         float64 `json:"total_amount" db:"total_amount"`
	DamageDepositAmount float64 `json:"damage_deposit_amount" db:"damage_deposit_amount"`
	InsuranceType       string  `json:"insurance_type" db:"insurance_type"`
	InsuranceCost       float64 `json:"insurance_cost" db:"insurance_cost"`
	Message             *string `json:"message,omitempty" db:"message"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Validate checks the booking's date invariant.
func (b *BookingRequest) Validate() error {
	if b.StartDate.After(b.EndDate) {
		return &ValidationError{Field: "start_date", Reason: "start_date must not be after end_date"}
	}
	return nil
}

// Overlaps reports whether the booking's closed date interval overlaps
// [start, end].
func (b *BookingRequest) Overlaps(start, end time.Time) bool {
	return !b.StartDate.After(end) && !b.EndDate.Before(start)
}

// ============================================================================
// BOOKING HISTORY (booking_history table, append-only)
// ============================================================================

// BookingHistoryEntry is an immutable record of one status transition.
// Written in the same transaction as the status change so a transition is
// never visible without its history entry.
type BookingHistoryEntry struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	BookingID uuid.UUID     `json:"booking_id" db:"booking_id"`
	OldStatus BookingStatus `json:"old_status" db:"old_status"`
	NewStatus BookingStatus `json:"new_status" db:"new_status"`
	Actor     string        `json:"actor" db:"actor"` // "renter", "owner", "system", "webhook"
	Reason    string        `json:"reason" db:"reason"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// RequestPaymentRequest is the renter's request to authorize payment for a
// prospective booking. No durable rows are created until the provider
// confirms the charge via webhook.
type RequestPaymentRequest struct {
	EquipmentID   string  `json:"equipment_id" binding:"required"`
	StartDate     string  `json:"start_date" binding:"required"` // "2006-01-02"
	EndDate       string  `json:"end_date" binding:"required"`   // "2006-01-02"
	TotalAmount   float64 `json:"total_amount" binding:"required"`
	InsuranceType string  `json:"insurance_type"`
	InsuranceCost float64 `json:"insurance_cost"`
	DepositAmount float64 `json:"deposit_amount"`
	Message       *string `json:"message,omitempty"`
}

// RequestPaymentResponse carries the client-side token the renter's payment
// SDK needs to complete authorization, plus the intent reference.
type RequestPaymentResponse struct {
	IntentID     string         `json:"intent_id"`
	ClientSecret string         `json:"client_secret"`
	Breakdown    MoneyBreakdown `json:"breakdown"`
	Currency     string         `json:"currency"`
}

// MoneyBreakdown is the server-computed split of a renter-facing total.
type MoneyBreakdown struct {
	RentalAmount  float64 `json:"rental_amount"`
	ServiceFee    float64 `json:"service_fee"`
	InsuranceCost float64 `json:"insurance_cost"`
	DepositAmount float64 `json:"deposit_amount"`
	TotalAmount   float64 `json:"total_amount"`
}

// CreateBookingRequest is the manual-approval flow: a renter submits a
// request with no upfront charge and the booking starts in pending.
type CreateBookingRequest struct {
	EquipmentID   string  `json:"equipment_id" binding:"required"`
	StartDate     string  `json:"start_date" binding:"required"`
	EndDate       string  `json:"end_date" binding:"required"`
	TotalAmount   float64 `json:"total_amount" binding:"required"`
	InsuranceType string  `json:"insurance_type"`
	InsuranceCost float64 `json:"insurance_cost"`
	DepositAmount float64 `json:"deposit_amount"`
	Message       *string `json:"message,omitempty"`
}

// TransitionBookingRequest is a status-change command (approve, decline,
// cancel, activate, complete).
type TransitionBookingRequest struct {
	Reason string `json:"reason"`
}

// AvailabilityResponse answers "is equipment X available for range Y".
type AvailabilityResponse struct {
	EquipmentID string `json:"equipment_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Available   bool   `json:"available"`
}

// ParseBookingDate parses an inclusive calendar date in the wire format.
func ParseBookingDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return t, nil
}
