package enums

import "fmt"

// PaymentMethod identifies how money moved for a transaction.
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodDwolla PaymentMethod = "dwolla"
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCheck  PaymentMethod = "check"
	PaymentMethodFake   PaymentMethod = "fake"
	PaymentMethodNone   PaymentMethod = "none"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodStripe,
	PaymentMethodDwolla,
	PaymentMethodCash,
	PaymentMethodCheck,
	PaymentMethodFake,
	PaymentMethodNone,
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// RequiresGateway reports whether the method settles through an external
// payment gateway.
func (m PaymentMethod) RequiresGateway() bool {
	return m == PaymentMethodStripe || m == PaymentMethodDwolla
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
