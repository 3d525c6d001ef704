package enums

import "fmt"

// RMABatchStatus tracks the lifecycle of a return-to-supplier batch.
type RMABatchStatus string

const (
	RMABatchStatusDraft     RMABatchStatus = "draft"
	RMABatchStatusSubmitted RMABatchStatus = "submitted"
	RMABatchStatusCompleted RMABatchStatus = "completed"
	RMABatchStatusCancelled RMABatchStatus = "cancelled"
)

var validRMABatchStatuses = []RMABatchStatus{
	RMABatchStatusDraft,
	RMABatchStatusSubmitted,
	RMABatchStatusCompleted,
	RMABatchStatusCancelled,
}

// String implements fmt.Stringer.
func (r RMABatchStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RMABatchStatus.
func (r RMABatchStatus) IsValid() bool {
	for _, candidate := range validRMABatchStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRMABatchStatus converts raw input into an RMABatchStatus.
func ParseRMABatchStatus(value string) (RMABatchStatus, error) {
	for _, candidate := range validRMABatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid rma batch status %q", value)
}
