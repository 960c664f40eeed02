package auction

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Q96 is the fixed-point scale of on-chain prices.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

var q96Dec = decimal.NewFromBigInt(Q96, 0)

// PriceFromDecimal converts a human price (currency units per token unit) to
// Q96, rounding down so the result never exceeds what was asked for.
func PriceFromDecimal(d decimal.Decimal) (*big.Int, error) {
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("price %s must be positive", d)
	}
	q := d.Mul(q96Dec).Floor().BigInt()
	if q.Sign() == 0 {
		return nil, fmt.Errorf("price %s underflows Q96", d)
	}
	return q, nil
}

// FormatPrice renders a Q96 price as a decimal with up to 18 places.
func FormatPrice(q96 *big.Int) string {
	if q96 == nil {
		return ""
	}
	return decimal.NewFromBigInt(q96, 0).DivRound(q96Dec, 18).String()
}
