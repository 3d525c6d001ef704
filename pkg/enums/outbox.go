package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateStockDocument OutboxAggregateType = "stock_document"
	AggregatePhysicalUnit  OutboxAggregateType = "physical_unit"
	AggregateRMABatch      OutboxAggregateType = "rma_batch"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateStockDocument,
	AggregatePhysicalUnit,
	AggregateRMABatch,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventDocumentSubmitted OutboxEventType = "document_submitted"
	EventDocumentApproved  OutboxEventType = "document_approved"
	EventDocumentRejected  OutboxEventType = "document_rejected"
	EventDocumentCompleted OutboxEventType = "document_completed"
	EventDocumentCancelled OutboxEventType = "document_cancelled"
	EventUnitRegistered    OutboxEventType = "unit_registered"
	EventUnitRelocated     OutboxEventType = "unit_relocated"
	EventRMASubmitted      OutboxEventType = "rma_submitted"
	EventRMACompleted      OutboxEventType = "rma_completed"
	EventRMACancelled      OutboxEventType = "rma_cancelled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventDocumentSubmitted,
	EventDocumentApproved,
	EventDocumentRejected,
	EventDocumentCompleted,
	EventDocumentCancelled,
	EventUnitRegistered,
	EventUnitRelocated,
	EventRMASubmitted,
	EventRMACompleted,
	EventRMACancelled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
