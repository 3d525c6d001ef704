package enums

import "fmt"

// UnitStatus is the lifecycle status of one serialized physical unit.
type UnitStatus string

const (
	// UnitStatusActive means the unit sits in stock and is free to allocate.
	UnitStatusActive UnitStatus = "active"
	// UnitStatusReserved means an open document binding claims the unit.
	UnitStatusReserved UnitStatus = "reserved"
	// UnitStatusDisposed means the unit left stock (issued or written off).
	UnitStatusDisposed UnitStatus = "disposed"
)

var validUnitStatuses = []UnitStatus{
	UnitStatusActive,
	UnitStatusReserved,
	UnitStatusDisposed,
}

// String implements fmt.Stringer.
func (u UnitStatus) String() string {
	return string(u)
}

// IsValid reports whether the value is a known UnitStatus.
func (u UnitStatus) IsValid() bool {
	for _, candidate := range validUnitStatuses {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUnitStatus converts raw input into a UnitStatus.
func ParseUnitStatus(value string) (UnitStatus, error) {
	for _, candidate := range validUnitStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid unit status %q", value)
}
