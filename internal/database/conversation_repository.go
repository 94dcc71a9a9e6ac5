package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gearshare/rental-backend/internal/models"
)

// ConversationRepository reads booking-scoped conversations and messages.
// Writes happen inside the materialization transaction in BookingRepository
// so the confirmation message can never outlive a rolled-back booking.
type ConversationRepository struct {
	db *sqlx.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetByBookingID retrieves the conversation for a booking, or nil.
func (r *ConversationRepository) GetByBookingID(bookingID uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	query := `
		SELECT id, booking_id, renter_id, owner_id, created_at
		FROM conversations WHERE booking_id = $1`

	err := r.db.Get(&conversation, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

// ListMessages returns a conversation's messages, oldest first.
func (r *ConversationRepository) ListMessages(conversationID uuid.UUID) ([]*models.Message, error) {
	var messages []*models.Message
	query := `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	if err := r.db.Select(&messages, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
