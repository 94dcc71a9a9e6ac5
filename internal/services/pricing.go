package services

import (
	"math"

	"github.com/gearshare/rental-backend/internal/models"
)

// round2 rounds to currency minor units. Applied at each step, not only at
// the end, so stored values always reconcile with recomputed ones.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeBreakdown splits a renter-facing grand total into rental amount and
// service fee after carving out insurance and damage deposit. The fee rate
// applies to the rental subtotal, so subtotal = rental * (1 + rate):
//
//	subtotal = total - insurance - deposit
//	rental   = round2(subtotal / (1 + rate))
//	fee      = round2(subtotal - rental)
func ComputeBreakdown(totalAmount, insuranceCost, depositAmount, feeRate float64) (models.MoneyBreakdown, error) {
	subtotal := round2(totalAmount - insuranceCost - depositAmount)

	if math.IsNaN(subtotal) || math.IsInf(subtotal, 0) {
		return models.MoneyBreakdown{}, &models.InvalidAmountError{Reason: "subtotal is not a finite number"}
	}
	if subtotal < 0 {
		return models.MoneyBreakdown{}, &models.InvalidAmountError{Reason: "insurance and deposit exceed the total amount"}
	}

	rental := round2(subtotal / (1 + feeRate))
	fee := round2(subtotal - rental)

	return models.MoneyBreakdown{
		RentalAmount:  rental,
		ServiceFee:    fee,
		InsuranceCost: round2(insuranceCost),
		DepositAmount: round2(depositAmount),
		TotalAmount:   round2(totalAmount),
	}, nil
}
