package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrValidation marks a bid that can never be submitted as configured.
var ErrValidation = errors.New("bid rejected")

type Reason string

const (
	ReasonZeroAmount     Reason = "zero amount"
	ReasonAmountTooLarge Reason = "amount exceeds uint128"
	ReasonAboveMaxPrice  Reason = "max price above auction cap"
	ReasonBelowFloor     Reason = "max price below floor"
	ReasonZeroOwner      Reason = "owner address missing"
	ReasonCapExceeded    Reason = "purchase limit exceeded"
	ReasonNotSoulbound   Reason = "owner holds no soulbound token"
)

type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrValidation, e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error { return ErrValidation }

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ValidateAndAlign turns spec into a contract-legal bid, or explains why it
// cannot be one. It performs no I/O and returns the same result for the same
// inputs.
func ValidateAndAlign(spec BidSpec, actx *Context) (PlannedBid, error) {
	return validateAndAlign(spec, actx, nil)
}

// committed, when non-nil, holds amounts already planned per owner earlier in
// the same run so the purchase limit applies to their sum.
func validateAndAlign(spec BidSpec, actx *Context, committed map[common.Address]*big.Int) (PlannedBid, error) {
	if spec.Amount == nil || spec.Amount.Sign() <= 0 {
		return PlannedBid{}, &RejectionError{Reason: ReasonZeroAmount}
	}
	if spec.Amount.Cmp(maxUint128) > 0 {
		return PlannedBid{}, reject(ReasonAmountTooLarge, "amount=%s", spec.Amount)
	}
	if spec.MaxPrice == nil {
		return PlannedBid{}, reject(ReasonBelowFloor, "max price missing")
	}
	if spec.MaxPrice.Cmp(actx.MaxBidPrice()) > 0 {
		return PlannedBid{}, reject(ReasonAboveMaxPrice, "max_price=%s cap=%s", spec.MaxPrice, actx.MaxBidPrice())
	}

	owner := spec.Owner
	if owner == (common.Address{}) {
		owner = actx.Signer
	}
	if owner == (common.Address{}) {
		return PlannedBid{}, &RejectionError{Reason: ReasonZeroOwner}
	}

	tick, price, exact, ok := actx.Ladder.AlignDown(spec.MaxPrice)
	if !ok {
		return PlannedBid{}, reject(ReasonBelowFloor, "max_price=%s floor=%s", spec.MaxPrice, actx.Ladder.Floor)
	}

	planned := PlannedBid{
		Owner:     owner,
		Amount:    new(big.Int).Set(spec.Amount),
		Tick:      tick,
		Price:     price,
		Requested: new(big.Int).Set(spec.MaxPrice),
		Adjusted:  !exact,
	}

	if err := checkEligibility(planned, actx.Eligibility, committed); err != nil {
		return PlannedBid{}, err
	}
	return planned, nil
}

func checkEligibility(bid PlannedBid, el Eligibility, committed map[common.Address]*big.Int) error {
	if el.RequireSoulbound && !el.Soulbound[bid.Owner] {
		return reject(ReasonNotSoulbound, "owner=%s", bid.Owner.Hex())
	}

	remaining := el.Remaining(bid.Owner)
	if remaining == nil {
		return nil
	}
	if c := committed[bid.Owner]; c != nil {
		remaining.Sub(remaining, c)
	}
	if bid.Amount.Cmp(remaining) > 0 {
		purchased := el.Purchased[bid.Owner]
		if purchased == nil {
			purchased = new(big.Int)
		}
		return reject(ReasonCapExceeded, "amount=%s purchased=%s planned=%s cap=%s",
			bid.Amount, purchased, bigOrZero(committed[bid.Owner]), el.MaxPurchaseLimit)
	}
	return nil
}

// PlanEntry is the outcome of planning one input bid. Exactly one of Bid or Err
// is meaningful.
type PlanEntry struct {
	Spec BidSpec
	Bid  PlannedBid
	Err  error
}

// Plan validates and aligns specs in order. Bids for the same owner share that
// owner's remaining purchase limit; a rejected bid does not consume it.
func Plan(specs []BidSpec, actx *Context) []PlanEntry {
	committed := make(map[common.Address]*big.Int)
	out := make([]PlanEntry, 0, len(specs))
	for _, spec := range specs {
		bid, err := validateAndAlign(spec, actx, committed)
		if err == nil {
			if committed[bid.Owner] == nil {
				committed[bid.Owner] = new(big.Int)
			}
			committed[bid.Owner].Add(committed[bid.Owner], bid.Amount)
		}
		out = append(out, PlanEntry{Spec: spec, Bid: bid, Err: err})
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
