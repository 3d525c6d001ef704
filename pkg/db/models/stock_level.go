package models

import (
	"time"

	"github.com/google/uuid"
)

// StockLevel tracks the aggregate on-hand count per product per warehouse.
// Adjusted on receipt/issue approval and on transfer receipt, never directly
// by callers.
type StockLevel struct {
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	WarehouseID uuid.UUID `gorm:"column:warehouse_id;type:uuid;primaryKey"`
	Qty         int       `gorm:"column:qty;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
