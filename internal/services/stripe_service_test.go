package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/models"
)

func newTestStripeService(baseURL string) *StripeService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewStripeService(&config.PaymentConfig{
		SecretKey:      "sk_test_123",
		WebhookSecret:  "whsec_test_secret",
		APIBaseURL:     baseURL,
		RequestTimeout: 5 * time.Second,
	}, logger)
}

func signedHeader(s *StripeService, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, s.ComputeSignature(timestamp, body))
}

func TestVerifyAndParseEvent(t *testing.T) {
	svc := newTestStripeService("http://unused")
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	body := []byte(`{
		"id": "evt_1",
		"type": "payment.succeeded",
		"data": {
			"payment_intent_id": "pi_123",
			"charge_id": "ch_456",
			"amount": 105.00,
			"currency": "USD",
			"metadata": {"equipment_id": "x"}
		}
	}`)

	t.Run("Valid signature", func(t *testing.T) {
		event, err := svc.VerifyAndParseEvent(body, signedHeader(svc, now.Unix(), body))
		require.NoError(t, err)

		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, EventPaymentSucceeded, event.Type)
		assert.Equal(t, "pi_123", event.Data.PaymentIntentID)
		assert.Equal(t, "ch_456", event.Data.ChargeID)
		assert.Equal(t, 105.00, event.Data.Amount)
	})

	t.Run("Missing header", func(t *testing.T) {
		_, err := svc.VerifyAndParseEvent(body, "")
		var authErr *models.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		other := newTestStripeService("http://unused")
		other.config.WebhookSecret = "whsec_other"
		other.now = svc.now

		_, err := svc.VerifyAndParseEvent(body, signedHeader(other, now.Unix(), body))
		var authErr *models.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Tampered body", func(t *testing.T) {
		header := signedHeader(svc, now.Unix(), body)
		tampered := append([]byte{}, body...)
		tampered[len(tampered)-2] = 'X'

		_, err := svc.VerifyAndParseEvent(tampered, header)
		var authErr *models.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Stale timestamp", func(t *testing.T) {
		stale := now.Add(-6 * time.Minute).Unix()
		_, err := svc.VerifyAndParseEvent(body, signedHeader(svc, stale, body))
		var authErr *models.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Future timestamp", func(t *testing.T) {
		future := now.Add(6 * time.Minute).Unix()
		_, err := svc.VerifyAndParseEvent(body, signedHeader(svc, future, body))
		var authErr *models.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Timestamp within tolerance", func(t *testing.T) {
		recent := now.Add(-4 * time.Minute).Unix()
		_, err := svc.VerifyAndParseEvent(body, signedHeader(svc, recent, body))
		assert.NoError(t, err)
	})

	t.Run("Malformed header", func(t *testing.T) {
		_, err := svc.VerifyAndParseEvent(body, "garbage")
		var authErr *models.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Valid signature over invalid payload", func(t *testing.T) {
		junk := []byte(`not json`)
		_, err := svc.VerifyAndParseEvent(junk, signedHeader(svc, now.Unix(), junk))
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("Missing payment intent reference", func(t *testing.T) {
		noRef := []byte(`{"id": "evt_2", "type": "payment.succeeded", "data": {"amount": 1}}`)
		_, err := svc.VerifyAndParseEvent(noRef, signedHeader(svc, now.Unix(), noRef))
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})
}

func TestCreatePaymentIntent(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payment_intents", r.URL.Path)
			assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "10500", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "eq-1", r.PostForm.Get("metadata[equipment_id]"))

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id": "pi_123", "client_secret": "pi_123_secret", "status": "requires_payment_method", "amount": 10500, "currency": "usd"}`)
		}))
		defer server.Close()

		svc := newTestStripeService(server.URL)
		intent, err := svc.CreatePaymentIntent(&PaymentIntentParams{
			Amount:   105.00,
			Currency: "USD",
			Metadata: map[string]string{"equipment_id": "eq-1"},
		})
		require.NoError(t, err)

		assert.Equal(t, "pi_123", intent.ID)
		assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	})

	t.Run("Provider error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, `{"error": {"message": "card declined"}}`)
		}))
		defer server.Close()

		svc := newTestStripeService(server.URL)
		_, err := svc.CreatePaymentIntent(&PaymentIntentParams{Amount: 10, Currency: "USD"})

		var providerErr *models.ProviderError
		require.ErrorAs(t, err, &providerErr)
	})

	t.Run("Not configured", func(t *testing.T) {
		svc := newTestStripeService("http://unused")
		svc.config.SecretKey = ""

		_, err := svc.CreatePaymentIntent(&PaymentIntentParams{Amount: 10, Currency: "USD"})
		assert.Error(t, err)
	})
}

func TestRefundPayment(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/refunds", r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
			fmt.Fprint(w, `{"id": "re_1", "status": "succeeded"}`)
		}))
		defer server.Close()

		svc := newTestStripeService(server.URL)
		assert.NoError(t, svc.RefundPayment("pi_123"))
	})

	t.Run("Provider failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		svc := newTestStripeService(server.URL)
		err := svc.RefundPayment("pi_123")

		var providerErr *models.ProviderError
		require.ErrorAs(t, err, &providerErr)
	})
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10500), toMinorUnits(105.00))
	assert.Equal(t, int64(1), toMinorUnits(0.01))
	assert.Equal(t, int64(9999), toMinorUnits(99.99))
	assert.Equal(t, int64(0), toMinorUnits(0))
}
