package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/models"
	"github.com/gearshare/rental-backend/internal/services"
)

// signatureHeaderName is the provider's webhook signature header.
const signatureHeaderName = "Stripe-Signature"

// WebhookHandler receives payment provider event deliveries
type WebhookHandler struct {
	webhookService *services.WebhookService
	logger         *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhookService *services.WebhookService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// HandleEvent processes one provider delivery. Acknowledgement contract:
// 200 for processed, duplicate and ignored events (the provider must stop
// retrying them); 400 for signature or payload problems (retrying the same
// bytes cannot succeed); 5xx only for transient failures where a retry can
// help.
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	outcome, err := h.webhookService.ProcessEvent(
		body,
		c.GetHeader(signatureHeaderName),
		c.ClientIP(),
		c.Request.UserAgent(),
	)
	if err != nil {
		var authErr *models.AuthenticityError
		var validationErr *models.ValidationError
		switch {
		case errors.As(err, &authErr), errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			// Transient (DB down, provider refund path unreachable). Ask the
			// provider to redeliver; processing is idempotent.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "webhook processed",
		"outcome": outcome,
	})
}
