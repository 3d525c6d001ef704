package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tant/service-center-backend/pkg/enums"
)

// StockDocument is the header row shared by receipts, issues and transfers.
// Receipts land stock in DestWarehouseID, issues pull from SourceWarehouseID,
// transfers use both.
type StockDocument struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Kind              enums.DocumentKind   `gorm:"column:kind;type:text;not null"`
	Status            enums.DocumentStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	SourceWarehouseID *uuid.UUID           `gorm:"column:source_warehouse_id;type:uuid;index"`
	DestWarehouseID   *uuid.UUID           `gorm:"column:dest_warehouse_id;type:uuid;index"`
	Adjustment        bool                 `gorm:"column:adjustment;not null;default:false"`
	Reference         *string              `gorm:"column:reference"`
	CreatedBy         uuid.UUID            `gorm:"column:created_by;type:uuid;not null"`
	ApprovedBy        *uuid.UUID           `gorm:"column:approved_by;type:uuid"`
	CompletedBy       *uuid.UUID           `gorm:"column:completed_by;type:uuid"`
	RejectionReason   *string              `gorm:"column:rejection_reason"`
	RMABatchID        *uuid.UUID           `gorm:"column:rma_batch_id;type:uuid;index"`
	Lines             []DocumentLine       `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// DocumentLine declares how many units of one product the document moves.
type DocumentLine struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	DocumentID  uuid.UUID        `gorm:"column:document_id;type:uuid;not null;index"`
	ProductID   uuid.UUID        `gorm:"column:product_id;type:uuid;not null;index"`
	DeclaredQty int              `gorm:"column:declared_qty;not null"`
	UnitPrice   *decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2)"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
