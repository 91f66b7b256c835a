package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a token amount to its smallest-unit integer
// representation, truncating anything below one base unit.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts a smallest-unit integer to a token amount.
func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(-decimals)
}
