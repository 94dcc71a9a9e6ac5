package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/config"
	"github.com/gearshare/rental-backend/internal/models"
)

// Webhook event types delivered by the payment provider.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// signatureTolerance bounds how old a signed webhook timestamp may be.
const signatureTolerance = 5 * time.Minute

// StripeService is the payment provider client. It creates payment intents
// (carrying the full prospective booking as metadata), issues refunds, and
// verifies webhook signatures.
type StripeService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client

	// now is swapped in tests to pin signature timestamp checks.
	now func() time.Time
}

// NewStripeService creates a new Stripe payment service
func NewStripeService(cfg *config.PaymentConfig, logger *logrus.Logger) *StripeService {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StripeService{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// IsConfigured returns true if the provider credentials are present.
func (s *StripeService) IsConfigured() bool {
	return s.config.SecretKey != ""
}

// ============================================================================
// PAYMENT INTENTS
// ============================================================================

// PaymentIntentParams are the inputs for creating a payment intent.
type PaymentIntentParams struct {
	Amount      float64
	Currency    string
	Description string
	Metadata    map[string]string
}

// PaymentIntent is the provider's authorization handle. ClientSecret goes
// back to the renter's payment SDK; ID is the durable reference and the
// webhook idempotency key.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"` // Minor units
	Currency     string `json:"currency"`
}

// CreatePaymentIntent requests authorization from the provider. Every field
// needed to later reconstruct the booking rides in the intent metadata; no
// durable row exists on our side until the success webhook arrives.
func (s *StripeService) CreatePaymentIntent(params *PaymentIntentParams) (*PaymentIntent, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("payment provider not configured: missing secret key")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinorUnits(params.Amount), 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("capture_method", "automatic")
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	req, err := http.NewRequest(http.MethodPost, s.config.APIBaseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &models.ProviderError{Op: "create_payment_intent", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.ProviderError{Op: "create_payment_intent", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderError{
			Op:  "create_payment_intent",
			Err: fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var intent PaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, &models.ProviderError{Op: "create_payment_intent", Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"amount":            params.Amount,
		"currency":          params.Currency,
	}).Info("Payment intent created")

	return &intent, nil
}

// RefundPayment issues a full refund for a payment intent. Used as the
// compensating action when a captured payment loses the availability race,
// and on cancellation of a booking with escrow held.
func (s *StripeService) RefundPayment(paymentIntentID string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("payment provider not configured: missing secret key")
	}

	form := url.Values{}
	form.Set("payment_intent", paymentIntentID)

	req, err := http.NewRequest(http.MethodPost, s.config.APIBaseURL+"/v1/refunds", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return &models.ProviderError{Op: "refund", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.ProviderError{Op: "refund", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &models.ProviderError{
			Op:  "refund",
			Err: fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	s.logger.WithField("payment_intent_id", paymentIntentID).Info("Refund issued")
	return nil
}

// ============================================================================
// WEBHOOK VERIFICATION
// ============================================================================

// WebhookEvent is the parsed, signature-verified provider event.
type WebhookEvent struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Data WebhookEventData `json:"data"`
}

// WebhookEventData carries the payment outcome and the metadata embedded at
// intent-creation time.
type WebhookEventData struct {
	PaymentIntentID string            `json:"payment_intent_id"`
	ChargeID        string            `json:"charge_id,omitempty"`
	Amount          float64           `json:"amount"`
	Currency        string            `json:"currency"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Metadata        map[string]string `json:"metadata"`
}

// VerifyAndParseEvent checks the HMAC-SHA256 signature header against the
// shared webhook secret and parses the payload. The header format is
// "t=<unix>,v1=<hex>" where the signed message is "<unix>.<body>". Fails
// closed: any verification problem rejects the event before a single field
// is trusted.
func (s *StripeService) VerifyAndParseEvent(body []byte, signatureHeader string) (*WebhookEvent, error) {
	if s.config.WebhookSecret == "" {
		return nil, &models.AuthenticityError{Reason: "webhook secret not configured"}
	}
	if signatureHeader == "" {
		return nil, &models.AuthenticityError{Reason: "missing signature header"}
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return nil, &models.AuthenticityError{Reason: "malformed timestamp"}
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return nil, &models.AuthenticityError{Reason: "malformed signature header"}
	}

	age := s.now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, &models.AuthenticityError{Reason: "signature timestamp outside tolerance"}
	}

	expected := s.ComputeSignature(timestamp, body)
	verified := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, &models.AuthenticityError{Reason: "signature mismatch"}
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &models.ValidationError{Field: "body", Reason: "invalid event payload: " + err.Error()}
	}
	if event.Data.PaymentIntentID == "" {
		return nil, &models.ValidationError{Field: "payment_intent_id", Reason: "event missing payment intent reference"}
	}

	return &event, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<body>"
// under the webhook secret. Exported for tests and for the provider
// simulator in development.
func (s *StripeService) ComputeSignature(timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.config.WebhookSecret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func toMinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
