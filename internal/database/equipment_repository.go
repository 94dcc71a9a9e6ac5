package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gearshare/rental-backend/internal/models"
)

// EquipmentRepository is a read-only view of the catalog owned by the
// listing service. The booking core only needs ownership, the availability
// flag and the title.
type EquipmentRepository struct {
	db *sqlx.DB
}

// NewEquipmentRepository creates a new equipment repository
func NewEquipmentRepository(db *sqlx.DB) *EquipmentRepository {
	return &EquipmentRepository{db: db}
}

// GetByID retrieves an equipment item, or nil if it does not exist.
func (r *EquipmentRepository) GetByID(id uuid.UUID) (*models.Equipment, error) {
	var equipment models.Equipment
	query := `
		SELECT id, owner_id, title, is_available, daily_rate, created_at
		FROM equipment WHERE id = $1`

	err := r.db.Get(&equipment, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}
	return &equipment, nil
}
