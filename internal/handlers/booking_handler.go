package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/middleware"
	"github.com/gearshare/rental-backend/internal/models"
	"github.com/gearshare/rental-backend/internal/services"
)

// BookingHandler handles booking lifecycle and availability endpoints
type BookingHandler struct {
	bookingService *services.BookingService
	escrowService  *services.EscrowService
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookingService *services.BookingService, escrowService *services.EscrowService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		escrowService:  escrowService,
		logger:         logger,
	}
}

// ============================================================================
// CREATE BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking creates a pending booking request (manual-approval flow)
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	booking, err := h.bookingService.CreateBooking(userCtx.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// ============================================================================
// GET BOOKING - GET /api/v1/bookings/:booking_id
// ============================================================================

// GetBooking retrieves one booking, visible to its renter or the owner
func (h *BookingHandler) GetBooking(c *gin.Context) {
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

	booking, err := h.bookingService.GetBooking(bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// LIST MY BOOKINGS - GET /api/v1/bookings
// ============================================================================

// ListMyBookings returns the caller's bookings as renter
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, offset := parsePagination(c)

	bookings, err := h.bookingService.ListForRenter(userCtx.UserID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"limit":    limit,
		"offset":   offset,
	})
}

// ============================================================================
// LIST EQUIPMENT BOOKINGS - GET /api/v1/equipment/:equipment_id/bookings
// ============================================================================

// ListEquipmentBookings returns bookings for equipment the caller owns
func (h *BookingHandler) ListEquipmentBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	equipmentID, err := uuid.Parse(c.Param("equipment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid equipment_id"})
		return
	}

	limit, offset := parsePagination(c)

	bookings, err := h.bookingService.ListForEquipment(equipmentID, userCtx.UserID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"limit":    limit,
		"offset":   offset,
	})
}

// ============================================================================
// CHECK AVAILABILITY - GET /api/v1/equipment/:equipment_id/availability
// ============================================================================

// CheckAvailability answers whether a date range is free for the equipment
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	equipmentID, err := uuid.Parse(c.Param("equipment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid equipment_id"})
		return
	}

	startDate := c.Query("start_date")
	endDate := c.Query("end_date")
	if startDate == "" || endDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date query parameters are required"})
		return
	}

	resp, err := h.bookingService.CheckAvailability(equipmentID, startDate, endDate)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ============================================================================
// TRANSITIONS - POST /api/v1/bookings/:booking_id/{approve,decline,cancel,activate,complete}
// ============================================================================

// Approve approves a pending booking (owner only)
func (h *BookingHandler) Approve(c *gin.Context) {
	h.transition(c, func(bookingID, userID uuid.UUID, reason string) error {
		return h.bookingService.Approve(bookingID, userID, reason)
	})
}

// Decline declines a pending booking (owner only)
func (h *BookingHandler) Decline(c *gin.Context) {
	h.transition(c, func(bookingID, userID uuid.UUID, reason string) error {
		return h.bookingService.Decline(bookingID, userID, reason)
	})
}

// Cancel cancels a booking (renter or owner); paid bookings are refunded
func (h *BookingHandler) Cancel(c *gin.Context) {
	h.transition(c, func(bookingID, userID uuid.UUID, reason string) error {
		return h.bookingService.Cancel(bookingID, userID, reason)
	})
}

// Activate marks the equipment handed over (owner only)
func (h *BookingHandler) Activate(c *gin.Context) {
	h.transition(c, func(bookingID, userID uuid.UUID, _ string) error {
		return h.bookingService.Activate(bookingID, userID)
	})
}

// Complete marks the equipment returned (owner only)
func (h *BookingHandler) Complete(c *gin.Context) {
	h.transition(c, func(bookingID, userID uuid.UUID, _ string) error {
		return h.bookingService.Complete(bookingID, userID)
	})
}

func (h *BookingHandler) transition(c *gin.Context, fn func(bookingID, userID uuid.UUID, reason string) error) {
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

	// Reason is optional on all transitions
	var req models.TransitionBookingRequest
	_ = c.ShouldBindJSON(&req)

	if err := fn(bookingID, userCtx.UserID, req.Reason); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "booking updated",
		"booking_id": bookingID,
	})
}

// ============================================================================
// HISTORY - GET /api/v1/bookings/:booking_id/history
// ============================================================================

// GetHistory returns the booking's transition log
func (h *BookingHandler) GetHistory(c *gin.Context) {
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

	history, err := h.bookingService.GetHistory(bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

func parsePagination(c *gin.Context) (int, int) {
	limit := 50
	offset := 0
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := c.Query("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
