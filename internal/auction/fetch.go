package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrFetch marks a failure to build the auction snapshot. Bidding must not
// start without a complete snapshot.
var ErrFetch = errors.New("auction snapshot unavailable")

type FetchError struct {
	Step string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrFetch, e.Step, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
func (e *FetchError) Unwrap() error        { return e.Err }

// FetchOptions controls which eligibility data the snapshot includes.
type FetchOptions struct {
	Signer common.Address
	// Owners lists every bid owner that needs eligibility data. The signer is
	// always included.
	Owners           []common.Address
	RequireSoulbound bool
}

// Fetch reads every auction parameter the bidder needs, pinned to a single
// block. Any failed read aborts the whole fetch; there is no retry here.
func Fetch(ctx context.Context, c Caller, addrs Addresses, opts FetchOptions) (*Context, error) {
	if addrs.CCA == (common.Address{}) {
		return nil, &FetchError{Step: "config", Err: errors.New("CCA address missing")}
	}

	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, &FetchError{Step: "head", Err: err}
	}
	at := new(big.Int).SetUint64(head)

	readU256 := func(contractABI abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
		vals, err := CallView(ctx, c, contractABI, to, at, method, args...)
		if err != nil {
			return nil, &FetchError{Step: method, Err: err}
		}
		v, err := firstBig(vals)
		if err != nil {
			return nil, &FetchError{Step: method, Err: err}
		}
		return v, nil
	}

	floor, err := readU256(CCAABI, addrs.CCA, "floorPrice")
	if err != nil {
		return nil, err
	}
	spacing, err := readU256(CCAABI, addrs.CCA, "tickSpacing")
	if err != nil {
		return nil, err
	}
	maxPrice, err := readU256(CCAABI, addrs.CCA, "MAX_BID_PRICE")
	if err != nil {
		return nil, err
	}
	endVals, err := CallView(ctx, c, CCAABI, addrs.CCA, at, "endBlock")
	if err != nil {
		return nil, &FetchError{Step: "endBlock", Err: err}
	}
	endBlock, ok := firstValue(endVals).(uint64)
	if !ok {
		return nil, &FetchError{Step: "endBlock", Err: fmt.Errorf("unexpected type %T", firstValue(endVals))}
	}

	actx := &Context{
		Addresses:     addrs,
		Signer:        opts.Signer,
		Ladder:        Ladder{Floor: floor, Spacing: spacing, Max: maxPrice},
		Window:        Window{End: endBlock},
		SnapshotBlock: head,
		Eligibility: Eligibility{
			Purchased:        make(map[common.Address]*big.Int),
			RequireSoulbound: opts.RequireSoulbound,
			Soulbound:        make(map[common.Address]bool),
		},
	}
	if err := actx.Ladder.Validate(); err != nil {
		return nil, &FetchError{Step: "ladder", Err: err}
	}

	owners := distinctOwners(opts.Signer, opts.Owners)

	if addrs.Hook != (common.Address{}) {
		start, err := readU256(HookABI, addrs.Hook, "CONTRIBUTOR_PERIOD_END_BLOCK")
		if err != nil {
			return nil, err
		}
		if !start.IsUint64() {
			return nil, &FetchError{Step: "CONTRIBUTOR_PERIOD_END_BLOCK", Err: fmt.Errorf("value %s overflows uint64", start)}
		}
		actx.Window.Start = start.Uint64()

		limit, err := readU256(HookABI, addrs.Hook, "MAX_PURCHASE_LIMIT")
		if err != nil {
			return nil, err
		}
		actx.Eligibility.MaxPurchaseLimit = limit

		for _, owner := range owners {
			purchased, err := readU256(HookABI, addrs.Hook, "totalPurchased", owner)
			if err != nil {
				return nil, err
			}
			actx.Eligibility.Purchased[owner] = purchased
		}
	}
	if actx.Window.Start > actx.Window.End {
		return nil, &FetchError{Step: "window", Err: fmt.Errorf("start block %d after end block %d", actx.Window.Start, actx.Window.End)}
	}

	if addrs.Soulbound != (common.Address{}) {
		for _, owner := range owners {
			vals, err := CallView(ctx, c, SoulboundABI, addrs.Soulbound, at, "hasAnyToken", owner)
			if err != nil {
				return nil, &FetchError{Step: "hasAnyToken", Err: err}
			}
			has, ok := firstValue(vals).(bool)
			if !ok {
				return nil, &FetchError{Step: "hasAnyToken", Err: fmt.Errorf("unexpected type %T", firstValue(vals))}
			}
			actx.Eligibility.Soulbound[owner] = has
		}
	} else if opts.RequireSoulbound {
		return nil, &FetchError{Step: "config", Err: errors.New("soulbound check required but soulbound address missing")}
	}

	return actx, nil
}

func distinctOwners(signer common.Address, owners []common.Address) []common.Address {
	out := make([]common.Address, 0, len(owners)+1)
	seen := make(map[common.Address]struct{}, len(owners)+1)
	for _, a := range append([]common.Address{signer}, owners...) {
		if a == (common.Address{}) {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func firstValue(vals []any) any {
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

func firstBig(vals []any) (*big.Int, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("unexpected result len %d", len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", vals[0])
	}
	return v, nil
}
