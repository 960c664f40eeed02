package auction

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPriceFromDecimal(t *testing.T) {
	one, err := PriceFromDecimal(decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if one.Cmp(Q96) != 0 {
		t.Fatalf("1.0 should be exactly Q96, got %s", one)
	}

	quarter, err := PriceFromDecimal(decimal.RequireFromString("0.25"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if want := new(big.Int).Rsh(Q96, 2); quarter.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", quarter, want)
	}
	if got := FormatPrice(quarter); got != "0.25" {
		t.Fatalf("FormatPrice: got %s", got)
	}

	for _, bad := range []string{"0", "-1", "0.00000000000000000000000000000001"} {
		if _, err := PriceFromDecimal(decimal.RequireFromString(bad)); err == nil {
			t.Fatalf("%s: expected err", bad)
		}
	}
}
