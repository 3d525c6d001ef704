package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tant/service-center-backend/pkg/enums"
)

// Warehouse is a physical stock location tagged with its operational role.
type Warehouse struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Name      string              `gorm:"column:name;not null"`
	Code      string              `gorm:"column:code;not null;uniqueIndex"`
	Type      enums.WarehouseType `gorm:"column:type;type:text;not null;default:'main'"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
