package enums

import "fmt"

// BoughtItemStatus tracks the lifecycle of one reserved or purchased unit.
type BoughtItemStatus string

const (
	BoughtItemStatusReserved    BoughtItemStatus = "reserved"
	BoughtItemStatusUnpaid      BoughtItemStatus = "unpaid"
	BoughtItemStatusBought      BoughtItemStatus = "bought"
	BoughtItemStatusRefunded    BoughtItemStatus = "refunded"
	BoughtItemStatusTransferred BoughtItemStatus = "transferred"
)

var validBoughtItemStatuses = []BoughtItemStatus{
	BoughtItemStatusReserved,
	BoughtItemStatusUnpaid,
	BoughtItemStatusBought,
	BoughtItemStatusRefunded,
	BoughtItemStatusTransferred,
}

// CartStatuses are the statuses that make up an open cart.
func CartStatuses() []BoughtItemStatus {
	return []BoughtItemStatus{BoughtItemStatusReserved, BoughtItemStatusUnpaid}
}

// TerminalStatuses are immutable end states excluded from inventory counts.
func TerminalStatuses() []BoughtItemStatus {
	return []BoughtItemStatus{BoughtItemStatusRefunded, BoughtItemStatusTransferred}
}

// String implements fmt.Stringer.
func (s BoughtItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BoughtItemStatus.
func (s BoughtItemStatus) IsValid() bool {
	for _, candidate := range validBoughtItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is refunded or transferred.
func (s BoughtItemStatus) IsTerminal() bool {
	return s == BoughtItemStatusRefunded || s == BoughtItemStatusTransferred
}

// InCart reports whether the status counts toward an open cart.
func (s BoughtItemStatus) InCart() bool {
	return s == BoughtItemStatusReserved || s == BoughtItemStatusUnpaid
}

// ParseBoughtItemStatus converts raw input into a BoughtItemStatus.
func ParseBoughtItemStatus(value string) (BoughtItemStatus, error) {
	for _, candidate := range validBoughtItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bought item status %q", value)
}
