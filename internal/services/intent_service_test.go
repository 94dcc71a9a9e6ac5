package services

import (
	"database/sql/driver"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/models"
)

var equipmentColumns = []string{"id", "owner_id", "title", "is_available", "daily_rate", "created_at"}

const testUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

// argContaining matches any string or []byte argument containing the
// substring.
type argContaining string

func (a argContaining) Match(v driver.Value) bool {
	switch s := v.(type) {
	case string:
		return strings.Contains(s, string(a))
	case []byte:
		return strings.Contains(string(s), string(a))
	}
	return false
}

func newIntentFixture(t *testing.T, providerURL string) (*IntentService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	bookingRepo := database.NewBookingRepository(sqlxDB, logger)
	equipmentRepo := database.NewEquipmentRepository(sqlxDB)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)

	stripe := NewStripeService(&config.PaymentConfig{
		SecretKey:      "sk_test_123",
		WebhookSecret:  "whsec_test_secret",
		APIBaseURL:     providerURL,
		RequestTimeout: 5 * time.Second,
	}, logger)

	cfg := &config.BookingConfig{
		Currency:              "USD",
		ServiceFeeRate:        0.05,
		PendingTimeoutMinutes: 60,
	}

	return NewIntentService(bookingRepo, equipmentRepo, auditRepo, stripe, cfg, logger), mock
}

func expectEquipment(mock sqlmock.Sqlmock, equipmentID, ownerID uuid.UUID, available bool) {
	mock.ExpectQuery(`SELECT (.+) FROM equipment WHERE id`).
		WithArgs(equipmentID).
		WillReturnRows(sqlmock.NewRows(equipmentColumns).
			AddRow(equipmentID, ownerID, "Canon EOS R5", available, 45.00, time.Now()))
}

func paymentRequest(equipmentID uuid.UUID) *models.RequestPaymentRequest {
	return &models.RequestPaymentRequest{
		EquipmentID:   equipmentID.String(),
		StartDate:     "2026-09-10",
		EndDate:       "2026-09-15",
		TotalAmount:   205.00,
		InsuranceType: "premium",
		InsuranceCost: 40.00,
		DepositAmount: 60.00,
	}
}

func TestRequestPayment(t *testing.T) {
	renterID := uuid.New()
	ownerID := uuid.New()

	t.Run("Issues intent carrying the full prospective booking", func(t *testing.T) {
		equipmentID := uuid.New()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "/v1/payment_intents", r.URL.Path)
			assert.Equal(t, "20500", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, equipmentID.String(), r.PostForm.Get("metadata[equipment_id]"))
			assert.Equal(t, renterID.String(), r.PostForm.Get("metadata[renter_id]"))
			assert.Equal(t, ownerID.String(), r.PostForm.Get("metadata[owner_id]"))
			assert.Equal(t, "2026-09-10", r.PostForm.Get("metadata[start_date]"))
			assert.Equal(t, "100.00", r.PostForm.Get("metadata[rental_amount]"))
			assert.Equal(t, "5.00", r.PostForm.Get("metadata[service_fee]"))
			assert.Equal(t, "60.00", r.PostForm.Get("metadata[deposit_amount]"))

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id": "pi_new", "client_secret": "pi_new_secret", "status": "requires_payment_method", "amount": 20500, "currency": "usd"}`)
		}))
		defer server.Close()

		svc, mock := newIntentFixture(t, server.URL)
		expectEquipment(mock, equipmentID, ownerID, true)
		mock.ExpectQuery(`SELECT COUNT(.+) FROM booking_requests`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		// The audit payload (11th column) carries the parsed device fields
		mock.ExpectExec(`INSERT INTO payment_audits`).
			WithArgs(
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), argContaining(`"device_type":"mobile"`), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), "1.2.3.4", testUserAgent, sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		resp, err := svc.RequestPayment(renterID, paymentRequest(equipmentID), "1.2.3.4", testUserAgent)
		require.NoError(t, err)

		assert.Equal(t, "pi_new", resp.IntentID)
		assert.Equal(t, "pi_new_secret", resp.ClientSecret)
		assert.Equal(t, 100.00, resp.Breakdown.RentalAmount)
		assert.Equal(t, 5.00, resp.Breakdown.ServiceFee)
		assert.Equal(t, "USD", resp.Currency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown equipment", func(t *testing.T) {
		svc, mock := newIntentFixture(t, "http://unused")
		equipmentID := uuid.New()

		mock.ExpectQuery(`SELECT (.+) FROM equipment WHERE id`).
			WithArgs(equipmentID).
			WillReturnRows(sqlmock.NewRows(equipmentColumns))

		_, err := svc.RequestPayment(renterID, paymentRequest(equipmentID), "1.2.3.4", testUserAgent)

		var notFound *models.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Owner cannot book own equipment", func(t *testing.T) {
		svc, mock := newIntentFixture(t, "http://unused")
		equipmentID := uuid.New()

		expectEquipment(mock, equipmentID, renterID, true)

		_, err := svc.RequestPayment(renterID, paymentRequest(equipmentID), "1.2.3.4", testUserAgent)

		var selfErr *models.SelfBookingError
		require.ErrorAs(t, err, &selfErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Equipment flagged unavailable", func(t *testing.T) {
		svc, mock := newIntentFixture(t, "http://unused")
		equipmentID := uuid.New()

		expectEquipment(mock, equipmentID, ownerID, false)

		_, err := svc.RequestPayment(renterID, paymentRequest(equipmentID), "1.2.3.4", testUserAgent)

		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Conflicting dates", func(t *testing.T) {
		svc, mock := newIntentFixture(t, "http://unused")
		equipmentID := uuid.New()

		expectEquipment(mock, equipmentID, ownerID, true)
		mock.ExpectQuery(`SELECT COUNT(.+) FROM booking_requests`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		_, err := svc.RequestPayment(renterID, paymentRequest(equipmentID), "1.2.3.4", testUserAgent)

		var datesErr *models.DatesUnavailableError
		require.ErrorAs(t, err, &datesErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Inverted date range fails before any lookup", func(t *testing.T) {
		svc, mock := newIntentFixture(t, "http://unused")
		req := paymentRequest(uuid.New())
		req.StartDate = "2026-09-15"
		req.EndDate = "2026-09-10"

		_, err := svc.RequestPayment(renterID, req, "1.2.3.4", testUserAgent)

		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Non-positive amount", func(t *testing.T) {
		svc, mock := newIntentFixture(t, "http://unused")
		equipmentID := uuid.New()

		expectEquipment(mock, equipmentID, ownerID, true)
		mock.ExpectQuery(`SELECT COUNT(.+) FROM booking_requests`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		req := paymentRequest(equipmentID)
		req.TotalAmount = 0

		_, err := svc.RequestPayment(renterID, req, "1.2.3.4", testUserAgent)

		var amountErr *models.InvalidAmountError
		require.ErrorAs(t, err, &amountErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Provider failure surfaces, nothing persisted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		svc, mock := newIntentFixture(t, server.URL)
		equipmentID := uuid.New()

		expectEquipment(mock, equipmentID, ownerID, true)
		mock.ExpectQuery(`SELECT COUNT(.+) FROM booking_requests`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		_, err := svc.RequestPayment(renterID, paymentRequest(equipmentID), "1.2.3.4", testUserAgent)

		var providerErr *models.ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuoteBreakdown(t *testing.T) {
	svc, _ := newIntentFixture(t, "http://unused")

	breakdown, err := svc.QuoteBreakdown(205.00, 40.00, 60.00)
	require.NoError(t, err)
	assert.Equal(t, 100.00, breakdown.RentalAmount)
	assert.Equal(t, 5.00, breakdown.ServiceFee)

	_, err = svc.QuoteBreakdown(0, 0, 0)
	var amountErr *models.InvalidAmountError
	require.ErrorAs(t, err, &amountErr)
}
