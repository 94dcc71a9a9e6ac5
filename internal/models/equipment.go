package models

import (
	"time"

	"github.com/google/uuid"
)

// Equipment is the read-only slice of the catalog this core needs for
// booking validation. Catalog CRUD, photos and categories live with the
// listing service; we only read ownership, availability flag and the title
// denormalized into confirmation messages.
type Equipment struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	Title       string    `json:"title" db:"title"`
	IsAvailable bool      `json:"is_available" db:"is_available"`
	DailyRate   float64   `json:"daily_rate" db:"daily_rate"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
