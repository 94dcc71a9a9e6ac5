package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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

type webhookFixture struct {
	svc    *WebhookService
	stripe *StripeService
	mock   sqlmock.Sqlmock
	now    time.Time
}

func newWebhookFixture(t *testing.T, providerURL string) *webhookFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	bookingRepo := database.NewBookingRepository(sqlxDB, logger)
	paymentRepo := database.NewPaymentRepository(sqlxDB, logger)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)

	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC)
	stripe := NewStripeService(&config.PaymentConfig{
		SecretKey:      "sk_test_123",
		WebhookSecret:  "whsec_test_secret",
		APIBaseURL:     providerURL,
		RequestTimeout: 5 * time.Second,
	}, logger)
	stripe.now = func() time.Time { return now }

	cfg := &config.BookingConfig{
		Currency:              "USD",
		ServiceFeeRate:        0.05,
		PendingTimeoutMinutes: 60,
		AutoRefundOnLostRace:  true,
	}

	return &webhookFixture{
		svc:    NewWebhookService(bookingRepo, paymentRepo, auditRepo, stripe, cfg, logger),
		stripe: stripe,
		mock:   mock,
		now:    now,
	}
}

func testMetadata() *BookingMetadata {
	return &BookingMetadata{
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
	}
}

func (f *webhookFixture) signedEvent(t *testing.T, eventType, intentID, chargeID string, meta *BookingMetadata) ([]byte, string) {
	t.Helper()
	event := WebhookEvent{
		ID:   "evt_" + intentID,
		Type: eventType,
		Data: WebhookEventData{
			PaymentIntentID: intentID,
			ChargeID:        chargeID,
			Amount:          205.00,
			Currency:        "USD",
		},
	}
	if meta != nil {
		event.Data.Metadata = meta.ToMap()
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	header := fmt.Sprintf("t=%d,v1=%s", f.now.Unix(), f.stripe.ComputeSignature(f.now.Unix(), body))
	return body, header
}

func TestProcessEventRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t, "http://unused")
	body, _ := f.signedEvent(t, EventPaymentSucceeded, "pi_123", "ch_1", testMetadata())

	// Rejection is audited before the payload is trusted
	f.mock.ExpectExec(`INSERT INTO payment_audits`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := f.svc.ProcessEvent(body, "t=1,v1=deadbeef", "1.2.3.4", "test-agent")

	var authErr *models.AuthenticityError
	require.ErrorAs(t, err, &authErr)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventMaterializesBooking(t *testing.T) {
	f := newWebhookFixture(t, "http://unused")
	meta := testMetadata()
	body, header := f.signedEvent(t, EventPaymentSucceeded, "pi_123", "ch_1", meta)

	// Idempotency lookup misses
	f.mock.ExpectQuery(`SELECT (.+) FROM payments WHERE stripe_payment_intent_id`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(paymentTestColumns))

	// One transaction: lock, intent re-check, conflict re-check, booking +
	// history + payment + conversation + message
	f.mock.ExpectBegin()
	f.mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectQuery(`SELECT EXISTS (.+) FROM payments WHERE stripe_payment_intent_id`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	f.mock.ExpectQuery(`SELECT COUNT(.+) FROM booking_requests`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	f.mock.ExpectExec(`INSERT INTO booking_requests`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO booking_history`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO conversations`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`SELECT id FROM conversations WHERE booking_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	f.mock.ExpectExec(`INSERT INTO messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMaterialized, outcome)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventConvergesOnDuplicate(t *testing.T) {
	f := newWebhookFixture(t, "http://unused")
	meta := testMetadata()
	body, header := f.signedEvent(t, EventPaymentSucceeded, "pi_123", "ch_1", meta)

	bookingID := uuid.New()

	// Idempotency lookup hits a fully processed payment (charge id set)
	f.mock.ExpectQuery(`SELECT (.+) FROM payments WHERE stripe_payment_intent_id`).
		WithArgs("pi_123").
		WillReturnRows(succeededPaymentRows(&bookingID, "ch_1"))

	// Only the duplicate audit row; no booking writes of any kind
	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventTopsUpMissingChargeID(t *testing.T) {
	f := newWebhookFixture(t, "http://unused")
	meta := testMetadata()
	body, header := f.signedEvent(t, EventPaymentSucceeded, "pi_123", "ch_late", meta)

	bookingID := uuid.New()

	f.mock.ExpectQuery(`SELECT (.+) FROM payments WHERE stripe_payment_intent_id`).
		WithArgs("pi_123").
		WillReturnRows(succeededPaymentRows(&bookingID, ""))

	// Charge reference arrives on the redelivery and is recorded once
	f.mock.ExpectExec(`UPDATE payments SET`).
		WithArgs("pi_123", "ch_late").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventSameIntentRedeliveryConverges(t *testing.T) {
	// Two deliveries of the same succeeded event race: this one passes the
	// idempotency lookup before the other commits, then finds the other's
	// payment row under the equipment lock. It must converge as a duplicate;
	// refunding here would claw back a live booking's money.
	refunds := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/refunds" {
			refunds++
		}
		fmt.Fprint(w, `{"id": "re_1", "status": "succeeded"}`)
	}))
	defer provider.Close()

	f := newWebhookFixture(t, provider.URL)
	meta := testMetadata()
	body, header := f.signedEvent(t, EventPaymentSucceeded, "pi_123", "ch_1", meta)

	f.mock.ExpectQuery(`SELECT (.+) FROM payments WHERE stripe_payment_intent_id`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(paymentTestColumns))

	f.mock.ExpectBegin()
	f.mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectQuery(`SELECT EXISTS (.+) FROM payments WHERE stripe_payment_intent_id`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	f.mock.ExpectRollback()

	// Duplicate audit only; no reconciliation record, no refund
	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 0, refunds)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventLostRaceGoesToReconciliation(t *testing.T) {
	refunds := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/refunds" {
			refunds++
		}
		fmt.Fprint(w, `{"id": "re_1", "status": "succeeded"}`)
	}))
	defer provider.Close()

	f := newWebhookFixture(t, provider.URL)
	meta := testMetadata()
	body, header := f.signedEvent(t, EventPaymentSucceeded, "pi_racer", "ch_1", meta)

	f.mock.ExpectQuery(`SELECT (.+) FROM payments WHERE stripe_payment_intent_id`).
		WithArgs("pi_racer").
		WillReturnRows(sqlmock.NewRows(paymentTestColumns))

	// Materialization loses the conflict re-check inside the transaction to
	// a different intent's booking
	f.mock.ExpectBegin()
	f.mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectQuery(`SELECT EXISTS (.+) FROM payments WHERE stripe_payment_intent_id`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	f.mock.ExpectQuery(`SELECT COUNT(.+) FROM booking_requests`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	f.mock.ExpectRollback()

	// The captured money is durably recorded without a booking
	f.mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
	// Compensating refund succeeded
	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciliation, outcome)
	assert.Equal(t, 1, refunds)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventFailedPayment(t *testing.T) {
	f := newWebhookFixture(t, "http://unused")

	event := WebhookEvent{
		ID:   "evt_fail",
		Type: EventPaymentFailed,
		Data: WebhookEventData{
			PaymentIntentID: "pi_failed",
			FailureReason:   "card_declined",
		},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)
	header := fmt.Sprintf("t=%d,v1=%s", f.now.Unix(), f.stripe.ComputeSignature(f.now.Unix(), body))

	// Pay-first: no payment row exists, the update touches nothing
	f.mock.ExpectExec(`UPDATE payments SET`).
		WithArgs("pi_failed", "card_declined").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailedRecorded, outcome)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessEventIgnoresUnknownTypes(t *testing.T) {
	f := newWebhookFixture(t, "http://unused")

	event := WebhookEvent{
		ID:   "evt_other",
		Type: "customer.updated",
		Data: WebhookEventData{PaymentIntentID: "pi_123"},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)
	header := fmt.Sprintf("t=%d,v1=%s", f.now.Unix(), f.stripe.ComputeSignature(f.now.Unix(), body))

	outcome, err := f.svc.ProcessEvent(body, header, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

var paymentTestColumns = []string{
	"id", "booking_id", "stripe_payment_intent_id", "stripe_charge_id",
	"subtotal", "rental_amount", "service_fee", "tax", "insurance_amount",
	"deposit_amount", "total_amount", "currency",
	"escrow_amount", "escrow_status", "deposit_status",
	"payment_status", "payout_status", "failure_reason",
	"deposit_released_at", "payout_processed_at", "escrow_transition_at",
	"created_at", "updated_at",
}

func succeededPaymentRows(bookingID *uuid.UUID, chargeID string) *sqlmock.Rows {
	now := time.Now()
	var charge interface{}
	if chargeID != "" {
		charge = chargeID
	}
	return sqlmock.NewRows(paymentTestColumns).AddRow(
		uuid.New(), bookingID, "pi_123", charge,
		105.00, 100.00, 5.00, 0.00, 40.00,
		60.00, 205.00, "USD",
		100.00, string(models.EscrowStatusHeld), string(models.DepositStatusHeld),
		string(models.PaymentStatusSucceeded), string(models.PayoutStatusPending), nil,
		nil, nil, nil,
		now, now,
	)
}
