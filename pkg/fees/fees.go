// Package fees holds the shared monetary fee math. All helpers round down to
// whole cents so the platform never overcharges an organizer.
package fees

import "github.com/shopspring/decimal"

// Stripe's published card processing rate: 2.9% + 30 cents per charge.
var (
	stripeRate = decimal.NewFromFloat(0.029)
	stripeFlat = decimal.NewFromInt(30)
	hundred    = decimal.NewFromInt(100)
)

// ApplicationFee computes the organizer platform fee for a charge.
// percent is a decimal string such as "2.5"; amounts are cents.
func ApplicationFee(percent string, amountCents int) (int, error) {
	if amountCents <= 0 {
		return 0, nil
	}
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return 0, err
	}
	fee := p.Div(hundred).Mul(decimal.NewFromInt(int64(amountCents)))
	return int(fee.RoundDown(0).IntPart()), nil
}

// StripeProcessingFee estimates Stripe's cut of a charge, rounded down.
func StripeProcessingFee(amountCents int) int {
	if amountCents <= 0 {
		return 0
	}
	fee := stripeRate.Mul(decimal.NewFromInt(int64(amountCents))).Add(stripeFlat)
	return int(fee.RoundDown(0).IntPart())
}

// ProportionalShare allocates part of an original fee to a partial refund,
// as floor(fee * refund / original). Flooring means cumulative shares never
// exceed the original fee; callers top up the closing refund with whatever
// rounding left behind.
func ProportionalShare(feeCents, refundCents, originalCents int) int {
	if feeCents == 0 || originalCents == 0 {
		return 0
	}
	share := decimal.NewFromInt(int64(feeCents)).
		Mul(decimal.NewFromInt(int64(refundCents))).
		Div(decimal.NewFromInt(int64(originalCents)))
	return int(share.RoundDown(0).IntPart())
}
