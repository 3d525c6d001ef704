package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/tant/service-center-backend/pkg/enums"
)

// DocumentSubmittedEvent is emitted when a draft document enters review.
type DocumentSubmittedEvent struct {
	DocumentID        uuid.UUID            `json:"documentId"`
	Kind              enums.DocumentKind   `json:"kind"`
	FromStatus        enums.DocumentStatus `json:"fromStatus"`
	ToStatus          enums.DocumentStatus `json:"toStatus"`
	SourceWarehouseID *uuid.UUID           `json:"sourceWarehouseId,omitempty"`
	DestWarehouseID   *uuid.UUID           `json:"destWarehouseId,omitempty"`
	LineCount         int                  `json:"lineCount"`
}

// DocumentApprovedEvent signals that stock effects were applied.
type DocumentApprovedEvent struct {
	DocumentID        uuid.UUID            `json:"documentId"`
	Kind              enums.DocumentKind   `json:"kind"`
	FromStatus        enums.DocumentStatus `json:"fromStatus"`
	ToStatus          enums.DocumentStatus `json:"toStatus"`
	SourceWarehouseID *uuid.UUID           `json:"sourceWarehouseId,omitempty"`
	DestWarehouseID   *uuid.UUID           `json:"destWarehouseId,omitempty"`
}

// DocumentRejectedEvent is emitted when review sends a document back to draft.
type DocumentRejectedEvent struct {
	DocumentID uuid.UUID            `json:"documentId"`
	Kind       enums.DocumentKind   `json:"kind"`
	FromStatus enums.DocumentStatus `json:"fromStatus"`
	ToStatus   enums.DocumentStatus `json:"toStatus"`
	Reason     string               `json:"reason,omitempty"`
}

// DocumentCompletedEvent carries the serials settled by completion.
type DocumentCompletedEvent struct {
	DocumentID uuid.UUID            `json:"documentId"`
	Kind       enums.DocumentKind   `json:"kind"`
	FromStatus enums.DocumentStatus `json:"fromStatus"`
	ToStatus   enums.DocumentStatus `json:"toStatus"`
	Serials    []string             `json:"serials"`
}

// DocumentCancelledEvent is emitted whenever an open document is voided.
type DocumentCancelledEvent struct {
	DocumentID  uuid.UUID            `json:"documentId"`
	Kind        enums.DocumentKind   `json:"kind"`
	FromStatus  enums.DocumentStatus `json:"fromStatus"`
	ToStatus    enums.DocumentStatus `json:"toStatus"`
	CancelledAt time.Time            `json:"cancelledAt"`
	Reason      string               `json:"reason,omitempty"`
}

// UnitRegisteredEvent reports a serial entering the registry.
type UnitRegisteredEvent struct {
	UnitID      uuid.UUID `json:"unitId"`
	ProductID   uuid.UUID `json:"productId"`
	Serial      string    `json:"serial"`
	WarehouseID uuid.UUID `json:"warehouseId"`
}

// UnitRelocatedEvent reports a serial moving between warehouses.
type UnitRelocatedEvent struct {
	UnitID          uuid.UUID  `json:"unitId"`
	Serial          string     `json:"serial"`
	FromWarehouseID *uuid.UUID `json:"fromWarehouseId,omitempty"`
	ToWarehouseID   *uuid.UUID `json:"toWarehouseId,omitempty"`
	DocumentID      uuid.UUID  `json:"documentId"`
}

// RMASubmittedEvent signals that a batch generated its movement documents.
type RMASubmittedEvent struct {
	BatchID            uuid.UUID  `json:"batchId"`
	TransferDocumentID *uuid.UUID `json:"transferDocumentId,omitempty"`
	IssueDocumentID    *uuid.UUID `json:"issueDocumentId,omitempty"`
	UnitCount          int        `json:"unitCount"`
}

// RMACompletedEvent is emitted when the batch's documents finish settling.
type RMACompletedEvent struct {
	BatchID     uuid.UUID `json:"batchId"`
	CompletedAt time.Time `json:"completedAt"`
	UnitCount   int       `json:"unitCount"`
}

// RMACancelledEvent reports a batch abandoned before completion.
type RMACancelledEvent struct {
	BatchID     uuid.UUID `json:"batchId"`
	CancelledAt time.Time `json:"cancelledAt"`
	Reason      string    `json:"reason,omitempty"`
}
