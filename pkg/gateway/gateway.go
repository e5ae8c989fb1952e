// Package gateway defines the contracts the ledger core shares with payment
// gateway adapters. The core never talks to an SDK directly; it sees only
// these result shapes and the adapter interfaces declared by its consumers.
package gateway

import (
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
)

// ChargeResult is what a successful gateway charge reports back.
type ChargeResult struct {
	RemoteID            string
	ApplicationFeeCents int
	ProcessingFeeCents  int
}

// RefundResult is what a successful gateway refund reports back.
type RefundResult struct {
	RemoteID                  string
	ApplicationFeeRefundCents int
	ProcessingFeeRefundCents  int
}

// ValidateAmount rejects negative amounts before any wire call. A negative
// amount reaching an adapter is a programming error, not user input.
func ValidateAmount(amountCents int) error {
	if amountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must not be negative")
	}
	return nil
}
