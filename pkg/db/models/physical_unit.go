package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tant/service-center-backend/pkg/enums"
)

// PhysicalUnit maps one serial number to exactly one physical unit of stock.
// WarehouseID changes only through registry relocation; documents reference
// units by serial, never by cached location.
type PhysicalUnit struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Serial      string           `gorm:"column:serial;not null;uniqueIndex:ux_physical_units_serial"`
	ProductID   uuid.UUID        `gorm:"column:product_id;type:uuid;not null;index"`
	WarehouseID uuid.UUID        `gorm:"column:warehouse_id;type:uuid;not null;index"`
	Status      enums.UnitStatus `gorm:"column:status;type:text;not null;default:'active'"`
	TicketRef   *string          `gorm:"column:ticket_ref"`
	RMABatchID  *uuid.UUID       `gorm:"column:rma_batch_id;type:uuid;index"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
