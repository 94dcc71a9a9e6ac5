package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscrowStatusCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    EscrowStatus
		to      EscrowStatus
		allowed bool
	}{
		{"Held to releasing", EscrowStatusHeld, EscrowStatusReleasing, true},
		{"Held to refunded", EscrowStatusHeld, EscrowStatusRefunded, true},
		{"Held cannot skip to released", EscrowStatusHeld, EscrowStatusReleased, false},
		{"Releasing to released", EscrowStatusReleasing, EscrowStatusReleased, true},
		{"Releasing to refunded", EscrowStatusReleasing, EscrowStatusRefunded, true},
		{"Released is terminal", EscrowStatusReleased, EscrowStatusRefunded, false},
		{"Refunded is terminal", EscrowStatusRefunded, EscrowStatusReleasing, false},
		{"No backwards move", EscrowStatusReleasing, EscrowStatusHeld, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestDepositStatusCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    DepositStatus
		to      DepositStatus
		allowed bool
	}{
		{"Held to releasing", DepositStatusHeld, DepositStatusReleasing, true},
		{"Held to claimed", DepositStatusHeld, DepositStatusClaimed, true},
		{"Held to refunded", DepositStatusHeld, DepositStatusRefunded, true},
		{"Releasing to released", DepositStatusReleasing, DepositStatusReleased, true},
		{"Releasing cannot be claimed", DepositStatusReleasing, DepositStatusClaimed, false},
		{"Released cannot be claimed", DepositStatusReleased, DepositStatusClaimed, false},
		{"Claimed is terminal", DepositStatusClaimed, DepositStatusReleased, false},
		{"None has no moves", DepositStatusNone, DepositStatusHeld, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPaymentBreakdownConsistent(t *testing.T) {
	payment := &Payment{
		RentalAmount:    100.00,
		ServiceFee:      5.00,
		Tax:             0,
		InsuranceAmount: 40.00,
		DepositAmount:   60.00,
		TotalAmount:     205.00,
	}
	assert.True(t, payment.BreakdownConsistent())

	// Within one minor unit of rounding drift is still consistent
	payment.TotalAmount = 205.01
	assert.True(t, payment.BreakdownConsistent())

	payment.TotalAmount = 206.00
	assert.False(t, payment.BreakdownConsistent())
}
