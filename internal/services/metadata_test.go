package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingMetadataRoundTrip(t *testing.T) {
	meta := &BookingMetadata{
		EquipmentID:    uuid.New(),
		RenterID:       uuid.New(),
		OwnerID:        uuid.New(),
		StartDate:      "2026-09-10",
		EndDate:        "2026-09-15",
		TotalAmount:    205.00,
		RentalAmount:   100.00,
		ServiceFee:     5.00,
		InsuranceType:  "premium",
		InsuranceCost:  40.00,
		DepositAmount:  60.00,
		Currency:       "USD",
		EquipmentTitle: "Canon EOS R5",
		Message:        "Need it for a wedding shoot",
	}

	parsed, err := ParseBookingMetadata(meta.ToMap())
	require.NoError(t, err)

	assert.Equal(t, meta.EquipmentID, parsed.EquipmentID)
	assert.Equal(t, meta.RenterID, parsed.RenterID)
	assert.Equal(t, meta.OwnerID, parsed.OwnerID)
	assert.Equal(t, meta.StartDate, parsed.StartDate)
	assert.Equal(t, meta.EndDate, parsed.EndDate)
	assert.Equal(t, meta.TotalAmount, parsed.TotalAmount)
	assert.Equal(t, meta.RentalAmount, parsed.RentalAmount)
	assert.Equal(t, meta.ServiceFee, parsed.ServiceFee)
	assert.Equal(t, meta.InsuranceCost, parsed.InsuranceCost)
	assert.Equal(t, meta.DepositAmount, parsed.DepositAmount)
	assert.Equal(t, meta.EquipmentTitle, parsed.EquipmentTitle)
	assert.Equal(t, meta.Message, parsed.Message)
}

func TestParseBookingMetadataRejectsBadInput(t *testing.T) {
	valid := (&BookingMetadata{
		EquipmentID:   uuid.New(),
		RenterID:      uuid.New(),
		OwnerID:       uuid.New(),
		StartDate:     "2026-09-10",
		EndDate:       "2026-09-15",
		TotalAmount:   100,
		RentalAmount:  90,
		ServiceFee:    10,
		InsuranceCost: 0,
		DepositAmount: 0,
		Currency:      "USD",
	}).ToMap()

	corrupt := func(key, value string) map[string]string {
		out := make(map[string]string, len(valid))
		for k, v := range valid {
			out[k] = v
		}
		out[key] = value
		return out
	}

	cases := map[string]map[string]string{
		"bad equipment id": corrupt("equipment_id", "not-a-uuid"),
		"missing renter":   corrupt("renter_id", ""),
		"bad start date":   corrupt("start_date", "10/09/2026"),
		"bad total":        corrupt("total_amount", "lots"),
		"missing deposit":  corrupt("deposit_amount", ""),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBookingMetadata(raw)
			assert.Error(t, err)
		})
	}
}
