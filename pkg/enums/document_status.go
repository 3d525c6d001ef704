package enums

import "fmt"

// DocumentStatus tracks the lifecycle of a stock document.
type DocumentStatus string

const (
	DocumentStatusDraft           DocumentStatus = "draft"
	DocumentStatusPendingApproval DocumentStatus = "pending_approval"
	DocumentStatusApproved        DocumentStatus = "approved"
	DocumentStatusInTransit       DocumentStatus = "in_transit"
	DocumentStatusCompleted       DocumentStatus = "completed"
	DocumentStatusCancelled       DocumentStatus = "cancelled"
)

var validDocumentStatuses = []DocumentStatus{
	DocumentStatusDraft,
	DocumentStatusPendingApproval,
	DocumentStatusApproved,
	DocumentStatusInTransit,
	DocumentStatusCompleted,
	DocumentStatusCancelled,
}

// String implements fmt.Stringer.
func (d DocumentStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DocumentStatus.
func (d DocumentStatus) IsValid() bool {
	for _, candidate := range validDocumentStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDocumentStatus converts raw input into a DocumentStatus.
func ParseDocumentStatus(value string) (DocumentStatus, error) {
	for _, candidate := range validDocumentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid document status %q", value)
}

// IsOpen reports whether bindings on a document in this status still count
// toward the single-open-binding rule.
func (d DocumentStatus) IsOpen() bool {
	switch d {
	case DocumentStatusDraft, DocumentStatusPendingApproval, DocumentStatusApproved, DocumentStatusInTransit:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (d DocumentStatus) IsTerminal() bool {
	return d == DocumentStatusCompleted || d == DocumentStatusCancelled
}
