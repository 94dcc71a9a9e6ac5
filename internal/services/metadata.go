package services

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/gearshare/rental-backend/internal/models"
)

// BookingMetadata is the full prospective booking embedded in a payment
// intent's metadata. Nothing durable exists on our side between intent
// creation and the success webhook, so this must carry every field needed
// to materialize the booking, the payment and the confirmation message.
type BookingMetadata struct {
	EquipmentID    uuid.UUID
	RenterID       uuid.UUID
	OwnerID        uuid.UUID
	StartDate      string // "2006-01-02"
	EndDate        string // "2006-01-02"
	TotalAmount    float64
	RentalAmount   float64
	ServiceFee     float64
	InsuranceType  string
	InsuranceCost  float64
	DepositAmount  float64
	Currency       string
	EquipmentTitle string // Denormalized for the confirmation message
	Message        string
}

// ToMap flattens the metadata for the provider's string-keyed metadata
// dictionary.
func (m *BookingMetadata) ToMap() map[string]string {
	out := map[string]string{
		"equipment_id":    m.EquipmentID.String(),
		"renter_id":       m.RenterID.String(),
		"owner_id":        m.OwnerID.String(),
		"start_date":      m.StartDate,
		"end_date":        m.EndDate,
		"total_amount":    formatAmount(m.TotalAmount),
		"rental_amount":   formatAmount(m.RentalAmount),
		"service_fee":     formatAmount(m.ServiceFee),
		"insurance_type":  m.InsuranceType,
		"insurance_cost":  formatAmount(m.InsuranceCost),
		"deposit_amount":  formatAmount(m.DepositAmount),
		"currency":        m.Currency,
		"equipment_title": m.EquipmentTitle,
	}
	if m.Message != "" {
		out["message"] = m.Message
	}
	return out
}

// ParseBookingMetadata reconstructs the prospective booking from a webhook
// event's metadata dictionary.
func ParseBookingMetadata(raw map[string]string) (*BookingMetadata, error) {
	m := &BookingMetadata{
		StartDate:      raw["start_date"],
		EndDate:        raw["end_date"],
		InsuranceType:  raw["insurance_type"],
		Currency:       raw["currency"],
		EquipmentTitle: raw["equipment_title"],
		Message:        raw["message"],
	}

	var err error
	if m.EquipmentID, err = uuid.Parse(raw["equipment_id"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.equipment_id", Reason: "missing or malformed"}
	}
	if m.RenterID, err = uuid.Parse(raw["renter_id"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.renter_id", Reason: "missing or malformed"}
	}
	if m.OwnerID, err = uuid.Parse(raw["owner_id"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.owner_id", Reason: "missing or malformed"}
	}
	if _, err = models.ParseBookingDate(m.StartDate); err != nil {
		return nil, &models.ValidationError{Field: "metadata.start_date", Reason: "missing or malformed"}
	}
	if _, err = models.ParseBookingDate(m.EndDate); err != nil {
		return nil, &models.ValidationError{Field: "metadata.end_date", Reason: "missing or malformed"}
	}
	if m.TotalAmount, err = parseAmount(raw["total_amount"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.total_amount", Reason: "missing or malformed"}
	}
	if m.RentalAmount, err = parseAmount(raw["rental_amount"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.rental_amount", Reason: "missing or malformed"}
	}
	if m.ServiceFee, err = parseAmount(raw["service_fee"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.service_fee", Reason: "missing or malformed"}
	}
	if m.InsuranceCost, err = parseAmount(raw["insurance_cost"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.insurance_cost", Reason: "missing or malformed"}
	}
	if m.DepositAmount, err = parseAmount(raw["deposit_amount"]); err != nil {
		return nil, &models.ValidationError{Field: "metadata.deposit_amount", Reason: "missing or malformed"}
	}

	return m, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
