package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tant/service-center-backend/pkg/enums"
)

// RMABatch groups dead-stock units for one return-to-supplier run. On
// completion it owns the generated transfer and issue documents.
type RMABatch struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Status             enums.RMABatchStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	Note               *string              `gorm:"column:note"`
	CreatedBy          uuid.UUID            `gorm:"column:created_by;type:uuid;not null"`
	TransferDocumentID *uuid.UUID           `gorm:"column:transfer_document_id;type:uuid"`
	IssueDocumentID    *uuid.UUID           `gorm:"column:issue_document_id;type:uuid"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
