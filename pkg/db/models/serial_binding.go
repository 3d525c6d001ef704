package models

import (
	"time"

	"github.com/google/uuid"
)

// SerialBinding asserts that a specific serial fulfills a specific document
// line. Active is true while the owning document is open; the partial unique
// index turns concurrent double-allocation into a constraint violation.
// Completion flips Active off and keeps the row as permanent history;
// unbinding or cancelling removes the row.
type SerialBinding struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	DocumentID uuid.UUID  `gorm:"column:document_id;type:uuid;not null;index"`
	LineID     uuid.UUID  `gorm:"column:line_id;type:uuid;not null;index"`
	Serial     string     `gorm:"column:serial;not null;index:ux_serial_bindings_open_serial,unique,where:active"`
	UnitID     *uuid.UUID `gorm:"column:unit_id;type:uuid;index"`
	Active     bool       `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
