package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/database"
	"github.com/gearshare/rental-backend/internal/middleware"
	"github.com/gearshare/rental-backend/internal/models"
	"github.com/gearshare/rental-backend/internal/services"
)

// ConversationHandler exposes the booking-scoped conversation created at
// materialization time. Read-only: ongoing messaging lives in a separate
// service.
type ConversationHandler struct {
	conversationRepo *database.ConversationRepository
	bookingService   *services.BookingService
	logger           *logrus.Logger
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(
	conversationRepo *database.ConversationRepository,
	bookingService *services.BookingService,
	logger *logrus.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversationRepo: conversationRepo,
		bookingService:   bookingService,
		logger:           logger,
	}
}

// GetConversation returns the booking's conversation and its messages.
// GET /api/v1/bookings/:booking_id/conversation
func (h *ConversationHandler) GetConversation(c *gin.Context) {
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

	// Access check rides on the booking lookup
	if _, err := h.bookingService.GetBooking(bookingID, userCtx.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	conversation, err := h.conversationRepo.GetByBookingID(bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if conversation == nil {
		respondError(c, h.logger, &models.NotFoundError{Resource: "conversation", ID: bookingID.String()})
		return
	}

	messages, err := h.conversationRepo.ListMessages(conversation.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conversation,
		"messages":     messages,
	})
}
