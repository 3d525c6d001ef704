package enums

import "fmt"

// WarehouseType tags a warehouse with its operational role.
type WarehouseType string

const (
	WarehouseTypeMain       WarehouseType = "main"
	WarehouseTypeDeadStock  WarehouseType = "dead_stock"
	WarehouseTypeRMAStaging WarehouseType = "rma_staging"
)

var validWarehouseTypes = []WarehouseType{
	WarehouseTypeMain,
	WarehouseTypeDeadStock,
	WarehouseTypeRMAStaging,
}

// String implements fmt.Stringer.
func (w WarehouseType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WarehouseType.
func (w WarehouseType) IsValid() bool {
	for _, candidate := range validWarehouseTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWarehouseType converts raw input into a WarehouseType.
func ParseWarehouseType(value string) (WarehouseType, error) {
	for _, candidate := range validWarehouseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid warehouse type %q", value)
}
