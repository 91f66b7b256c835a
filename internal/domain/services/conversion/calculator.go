// Package conversion holds the fee and amount arithmetic shared by both
// ramps. Functions are pure and reproducible from persisted inputs alone, so
// a completed transaction's token amount can always be recomputed for audit.
//
// Rounding policy: fees round up to the fiat minor unit (kobo), token amounts
// round down to the token's smallest representable unit. Custody never
// under-collects on either side.
package conversion

import (
	"github.com/shopspring/decimal"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

const (
	fiatPlaces  = 2  // kobo
	tokenPlaces = 18 // token smallest unit
)

var hundred = decimal.NewFromInt(100)

// Calculator computes conversion fees and final token amounts for a fixed
// percentage fee policy.
type Calculator struct {
	feePercent decimal.Decimal
}

// NewCalculator creates a calculator for the given fee percentage (e.g. 2.5).
func NewCalculator(feePercent decimal.Decimal) (*Calculator, error) {
	if feePercent.IsNegative() || feePercent.GreaterThanOrEqual(hundred) {
		return nil, domainerrors.ValidationError("fee_percent", "fee percent must be in [0, 100)")
	}
	return &Calculator{feePercent: feePercent}, nil
}

// Fee returns the fiat fee for the given fiat amount, rounded up to kobo.
func (c *Calculator) Fee(fiatAmount decimal.Decimal) (decimal.Decimal, error) {
	if !fiatAmount.IsPositive() {
		return decimal.Zero, domainerrors.ValidationError("fiat_amount", "fiat amount must be positive")
	}
	return fiatAmount.Mul(c.feePercent).Div(hundred).RoundUp(fiatPlaces), nil
}

// FeeToToken converts a fiat fee into its token equivalent at the given rate
// (fiat per token), rounded down to the token's smallest unit.
func (c *Calculator) FeeToToken(feeFiat, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, domainerrors.ValidationError("rate", "exchange rate must be positive")
	}
	if feeFiat.IsNegative() {
		return decimal.Zero, domainerrors.ValidationError("fee_fiat", "fee must not be negative")
	}
	return feeFiat.DivRound(rate, tokenPlaces+2).RoundDown(tokenPlaces), nil
}

// FinalTokenAmount returns the fee-deducted token amount for a fiat payment
// at the given rate (fiat per token), rounded down to the token's smallest
// unit. The result is monotonically increasing in fiatAmount and decreasing
// in rate.
func (c *Calculator) FinalTokenAmount(fiatAmount, feeFiat, rate decimal.Decimal) (decimal.Decimal, error) {
	if !fiatAmount.IsPositive() {
		return decimal.Zero, domainerrors.ValidationError("fiat_amount", "fiat amount must be positive")
	}
	if !rate.IsPositive() {
		return decimal.Zero, domainerrors.ValidationError("rate", "exchange rate must be positive")
	}
	if feeFiat.IsNegative() || feeFiat.GreaterThanOrEqual(fiatAmount) {
		return decimal.Zero, domainerrors.ValidationError("fee_fiat", "fee must be non-negative and below the fiat amount")
	}
	return fiatAmount.Sub(feeFiat).DivRound(rate, tokenPlaces+2).RoundDown(tokenPlaces), nil
}

// Quote computes the fee pair and final token amount in one step.
func (c *Calculator) Quote(fiatAmount, rate decimal.Decimal) (feeFiat, feeToken, tokenAmount decimal.Decimal, err error) {
	feeFiat, err = c.Fee(fiatAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	feeToken, err = c.FeeToToken(feeFiat, rate)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	tokenAmount, err = c.FinalTokenAmount(fiatAmount, feeFiat, rate)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return feeFiat, feeToken, tokenAmount, nil
}
