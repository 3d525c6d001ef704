package enums

import "fmt"

// DocumentKind distinguishes the three stock document variants.
type DocumentKind string

const (
	DocumentKindReceipt  DocumentKind = "receipt"
	DocumentKindIssue    DocumentKind = "issue"
	DocumentKindTransfer DocumentKind = "transfer"
)

var validDocumentKinds = []DocumentKind{
	DocumentKindReceipt,
	DocumentKindIssue,
	DocumentKindTransfer,
}

// String implements fmt.Stringer.
func (d DocumentKind) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DocumentKind.
func (d DocumentKind) IsValid() bool {
	for _, candidate := range validDocumentKinds {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDocumentKind converts raw input into a DocumentKind.
func ParseDocumentKind(value string) (DocumentKind, error) {
	for _, candidate := range validDocumentKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid document kind %q", value)
}

// RequiresSourceWarehouse reports whether documents of this kind pull stock
// out of a source warehouse.
func (d DocumentKind) RequiresSourceWarehouse() bool {
	return d == DocumentKindIssue || d == DocumentKindTransfer
}

// RequiresDestWarehouse reports whether documents of this kind land stock in
// a destination warehouse.
func (d DocumentKind) RequiresDestWarehouse() bool {
	return d == DocumentKindReceipt || d == DocumentKindTransfer
}
