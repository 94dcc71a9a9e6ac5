package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/middleware"
	"github.com/gearshare/rental-backend/internal/models"
	"github.com/gearshare/rental-backend/internal/services"
)

// PaymentHandler handles payment intent, payment status and escrow endpoints
type PaymentHandler struct {
	intentService  *services.IntentService
	bookingService *services.BookingService
	escrowService  *services.EscrowService
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	intentService *services.IntentService,
	bookingService *services.BookingService,
	escrowService *services.EscrowService,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		intentService:  intentService,
		bookingService: bookingService,
		escrowService:  escrowService,
		logger:         logger,
	}
}

// ============================================================================
// REQUEST PAYMENT - POST /api/v1/payments/request
// ============================================================================

// RequestPayment validates a prospective booking and returns a payment intent.
// The booking itself is only created when the provider confirms the charge.
func (h *PaymentHandler) RequestPayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.RequestPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"renter_id":    userCtx.UserID,
		"equipment_id": req.EquipmentID,
	}).Debug("Payment requested")

	resp, err := h.intentService.RequestPayment(userCtx.UserID, &req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ============================================================================
// QUOTE BREAKDOWN - GET /api/v1/payments/quote
// ============================================================================

// QuoteBreakdown returns the server-side money split for a total
func (h *PaymentHandler) QuoteBreakdown(c *gin.Context) {
	var query struct {
		TotalAmount   float64 `form:"total_amount" binding:"required"`
		InsuranceCost float64 `form:"insurance_cost"`
		DepositAmount float64 `form:"deposit_amount"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	breakdown, err := h.intentService.QuoteBreakdown(query.TotalAmount, query.InsuranceCost, query.DepositAmount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, breakdown)
}

// ============================================================================
// PAYMENT STATUS - GET /api/v1/bookings/:booking_id/payment
// ============================================================================

// GetPaymentStatus returns the payment, escrow and deposit state for a booking
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking_id"})
		return
	}

	status, err := h.bookingService.GetPaymentStatus(bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ============================================================================
// ESCROW / DEPOSIT - POST /api/v1/bookings/:booking_id/escrow/...
// ============================================================================

// ReleaseEscrow starts releasing held funds to the owner after completion
func (h *PaymentHandler) ReleaseEscrow(c *gin.Context) {
	h.escrowAction(c, h.escrowService.BeginEscrowRelease)
}

// ReleaseDeposit starts returning the damage deposit to the renter
func (h *PaymentHandler) ReleaseDeposit(c *gin.Context) {
	h.escrowAction(c, h.escrowService.BeginDepositRelease)
}

// ClaimDeposit resolves a damage claim against a held deposit
func (h *PaymentHandler) ClaimDeposit(c *gin.Context) {
	h.escrowAction(c, h.escrowService.ClaimDeposit)
}

func (h *PaymentHandler) escrowAction(c *gin.Context, fn func(bookingID, actorID uuid.UUID) error) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking_id"})
		return
	}

	if err := fn(bookingID, userCtx.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "payment state updated",
		"booking_id": bookingID,
	})
}
