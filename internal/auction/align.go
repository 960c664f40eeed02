package auction

import (
	"fmt"
	"math/big"
)

// Ladder is the ordered set of admissible bid prices:
//
//	Floor, Floor+Spacing, Floor+2*Spacing, ... (all < Max), Max
//
// Max (the contract's MAX_BID_PRICE) is always the top rung. A bid at Max is a
// market order.
type Ladder struct {
	Floor   *big.Int
	Spacing *big.Int
	Max     *big.Int
}

func (l Ladder) Validate() error {
	if l.Floor == nil || l.Spacing == nil || l.Max == nil {
		return fmt.Errorf("tick ladder incomplete")
	}
	if l.Floor.Sign() <= 0 {
		return fmt.Errorf("floor price must be > 0, got %s", l.Floor)
	}
	if l.Spacing.Sign() <= 0 {
		return fmt.Errorf("tick spacing must be > 0, got %s", l.Spacing)
	}
	if l.Max.Cmp(l.Floor) < 0 {
		return fmt.Errorf("max bid price %s below floor %s", l.Max, l.Floor)
	}
	if !l.top().IsUint64() {
		return fmt.Errorf("tick ladder too long (floor=%s spacing=%s max=%s)", l.Floor, l.Spacing, l.Max)
	}
	return nil
}

// top returns ceil((Max-Floor)/Spacing), the index of the Max rung.
func (l Ladder) top() *big.Int {
	span := new(big.Int).Sub(l.Max, l.Floor)
	q, r := new(big.Int).QuoRem(span, l.Spacing, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// TopIndex is the index of the market-order rung.
func (l Ladder) TopIndex() uint64 { return l.top().Uint64() }

// PriceAt returns the price of rung i.
func (l Ladder) PriceAt(i uint64) (*big.Int, error) {
	top := l.TopIndex()
	switch {
	case i > top:
		return nil, fmt.Errorf("tick %d out of range (top=%d)", i, top)
	case i == top:
		return new(big.Int).Set(l.Max), nil
	}
	p := new(big.Int).Mul(new(big.Int).SetUint64(i), l.Spacing)
	return p.Add(p, l.Floor), nil
}

func (l Ladder) IsMarket(price *big.Int) bool {
	return price != nil && price.Cmp(l.Max) == 0
}

// AlignDown returns the greatest rung <= price. ok is false when price is
// below the floor (no such rung exists); exact is true when price already sits
// on a rung. Prices above Max align to Max with exact=false.
func (l Ladder) AlignDown(price *big.Int) (index uint64, aligned *big.Int, exact bool, ok bool) {
	if price == nil || price.Cmp(l.Floor) < 0 {
		return 0, nil, false, false
	}
	if c := price.Cmp(l.Max); c >= 0 {
		return l.TopIndex(), new(big.Int).Set(l.Max), c == 0, true
	}

	offset := new(big.Int).Sub(price, l.Floor)
	k, rem := new(big.Int).QuoRem(offset, l.Spacing, new(big.Int))
	aligned = new(big.Int).Sub(price, rem)
	return k.Uint64(), aligned, rem.Sign() == 0, true
}
