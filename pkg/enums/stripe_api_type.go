package enums

import "fmt"

// StripeAPIType distinguishes which keyset a Stripe object belongs to.
// Processed event rows are unique per (event id, api type) so replaying a
// test-mode event can never mask a live-mode event with the same id.
type StripeAPIType string

const (
	StripeAPITypeLive StripeAPIType = "live"
	StripeAPITypeTest StripeAPIType = "test"
)

var validStripeAPITypes = []StripeAPIType{StripeAPITypeLive, StripeAPITypeTest}

// String implements fmt.Stringer.
func (t StripeAPIType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t StripeAPIType) IsValid() bool {
	for _, candidate := range validStripeAPITypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseStripeAPIType converts raw input into a StripeAPIType.
func ParseStripeAPIType(value string) (StripeAPIType, error) {
	for _, candidate := range validStripeAPITypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stripe api type %q", value)
}
