package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/services"
)

// AdminHandler exposes operational endpoints: the manual reclaim trigger,
// the reconciliation queue, and audit queries. All routes require the admin
// role.
type AdminHandler struct {
	paymentRepo *database.PaymentRepository
	auditRepo   *database.PaymentAuditRepository
	cronService *services.CronService
	logger      *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(
	paymentRepo *database.PaymentRepository,
	auditRepo *database.PaymentAuditRepository,
	cronService *services.CronService,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		cronService: cronService,
		logger:      logger,
	}
}

// ============================================================================
// RECLAIM TRIGGER - POST /api/v1/admin/bookings/reclaim
// ============================================================================

// TriggerReclaim runs the stale pending sweep immediately
func (h *AdminHandler) TriggerReclaim(c *gin.Context) {
	reclaimed, err := h.cronService.RunReclaimNow()
	if err != nil {
		h.logger.WithError(err).Error("Manual reclaim sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reclaim sweep failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "reclaim sweep finished",
		"reclaimed": reclaimed,
	})
}

// ============================================================================
// CRON STATUS - GET /api/v1/admin/jobs
// ============================================================================

// GetJobStatus returns the scheduled job states
func (h *AdminHandler) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cronService.GetJobStatus())
}

// ============================================================================
// RECONCILIATION QUEUE - GET /api/v1/admin/payments/reconciliation
// ============================================================================

// ListReconciliation returns payments that captured money without a booking
func (h *AdminHandler) ListReconciliation(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 200)

	payments, err := h.paymentRepo.ListRequiringReconciliation(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list reconciliation payments")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list payments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"count":    len(payments),
	})
}

// ============================================================================
// AUDIT QUERIES - GET /api/v1/admin/audits/...
// ============================================================================

// GetAuditTrail returns the audit entries for one payment intent
func (h *AdminHandler) GetAuditTrail(c *gin.Context) {
	intentID := c.Param("intent_id")
	if intentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent_id is required"})
		return
	}

	audits, err := h.auditRepo.GetByPaymentIntentID(c.Request.Context(), intentID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get audit trail"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

// ListAmountMismatches returns audits where provider and local amounts differ
func (h *AdminHandler) ListAmountMismatches(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 200)

	audits, err := h.auditRepo.GetAmountMismatches(context.Background(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list amount mismatches")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list mismatches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

func queryInt(c *gin.Context, name string, def, max int) int {
	value := def
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= max {
			value = v
		}
	}
	return value
}
