package auction

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BidSpec is a raw bid as configured by the user.
type BidSpec struct {
	// MaxPrice is a Q96 fixed-point price.
	MaxPrice *big.Int
	// Amount is denominated in the auction currency's base units (wei).
	Amount *big.Int
	// Owner receives the tokens. Zero means "use the signer".
	Owner common.Address
}

// PlannedBid is a validated, tick-aligned bid ready for submission.
type PlannedBid struct {
	Owner  common.Address
	Amount *big.Int

	// Tick is the index of Price on the auction's tick ladder.
	Tick  uint64
	Price *big.Int

	// Requested is the price the user asked for; Adjusted reports whether
	// alignment moved Price away from it.
	Requested *big.Int
	Adjusted  bool
}

// Window bounds the public bidding period in block numbers: bids are accepted
// for Start <= block < End.
type Window struct {
	Start uint64
	End   uint64
}

func (w Window) Opened(block uint64) bool { return block >= w.Start }
func (w Window) Closed(block uint64) bool { return block >= w.End }

// Eligibility carries the per-owner data the validation hook enforces.
type Eligibility struct {
	// MaxPurchaseLimit caps the total amount any single owner may commit.
	// Nil means the auction has no purchase limit.
	MaxPurchaseLimit *big.Int
	// Purchased holds the amount already committed on-chain, per owner.
	Purchased map[common.Address]*big.Int

	RequireSoulbound bool
	Soulbound        map[common.Address]bool
}

// Remaining returns how much more owner may commit, or nil when uncapped.
func (e Eligibility) Remaining(owner common.Address) *big.Int {
	if e.MaxPurchaseLimit == nil {
		return nil
	}
	left := new(big.Int).Set(e.MaxPurchaseLimit)
	if p := e.Purchased[owner]; p != nil {
		left.Sub(left, p)
	}
	if left.Sign() < 0 {
		left.SetInt64(0)
	}
	return left
}

// Addresses locates the contracts that make up one auction deployment.
type Addresses struct {
	CCA       common.Address
	Hook      common.Address
	Soulbound common.Address
}

// Context is the auction-wide snapshot taken once before bidding starts.
// It is never refreshed during a run.
type Context struct {
	Addresses   Addresses
	Signer      common.Address
	Ladder      Ladder
	Window      Window
	Eligibility Eligibility

	// SnapshotBlock is the block every read was pinned to.
	SnapshotBlock uint64
}

// MaxBidPrice is the contract's price ceiling and the market-order sentinel.
func (c *Context) MaxBidPrice() *big.Int { return c.Ladder.Max }
