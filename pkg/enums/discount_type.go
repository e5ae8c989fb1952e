package enums

import "fmt"

// DiscountType determines how a discount amount is interpreted.
type DiscountType string

const (
	// DiscountTypeFlat subtracts a fixed amount of cents per item.
	DiscountTypeFlat DiscountType = "flat"
	// DiscountTypePercent subtracts a whole-number percentage of the item price.
	DiscountTypePercent DiscountType = "percent"
)

var validDiscountTypes = []DiscountType{DiscountTypeFlat, DiscountTypePercent}

// String implements fmt.Stringer.
func (d DiscountType) String() string {
	return string(d)
}

// IsValid reports whether the value is known.
func (d DiscountType) IsValid() bool {
	for _, candidate := range validDiscountTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDiscountType converts raw input into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	for _, candidate := range validDiscountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount type %q", value)
}
