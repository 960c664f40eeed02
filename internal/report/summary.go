package report

import (
	"log"
	"math/big"
	"time"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/chainwatch"
	"cca-bidder/internal/ethutil"
	"cca-bidder/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

type Summary struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Mode        string    `json:"mode"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error,omitempty"`
	LastBlock   uint64    `json:"last_block"`

	Auction *Auction     `json:"auction,omitempty"`
	Totals  Totals       `json:"totals"`
	Bids    []BidOutcome `json:"bids"`
}

type Auction struct {
	CCA           string `json:"cca"`
	FloorPrice    string `json:"floor_price"`
	TickSpacing   string `json:"tick_spacing"`
	MaxBidPrice   string `json:"max_bid_price"`
	StartBlock    uint64 `json:"start_block"`
	EndBlock      uint64 `json:"end_block"`
	SnapshotBlock uint64 `json:"snapshot_block"`
}

type Totals struct {
	Bids             int    `json:"bids"`
	Submitted        int    `json:"submitted"`
	Exhausted        int    `json:"exhausted"`
	Pending          int    `json:"pending"`
	SubmittedWei     string `json:"submitted_wei"`
	SubmittedEther   string `json:"submitted_ether"`
	ConfirmedOnChain int    `json:"confirmed_on_chain,omitempty"`
}

type BidOutcome struct {
	ID        int    `json:"id"`
	Status    string `json:"status"`
	Owner     string `json:"owner,omitempty"`
	AmountWei string `json:"amount_wei,omitempty"`
	AmountEth string `json:"amount_ether,omitempty"`

	RequestedPrice string  `json:"requested_price,omitempty"`
	Price          string  `json:"price,omitempty"`
	PriceDecimal   string  `json:"price_decimal,omitempty"`
	Tick           *uint64 `json:"tick,omitempty"`
	Adjusted       bool    `json:"adjusted,omitempty"`

	Attempts  int    `json:"attempts"`
	TxHash    string `json:"tx_hash,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Receipt *Receipt `json:"receipt,omitempty"`
}

type Receipt struct {
	Mined       bool   `json:"mined"`
	Success     bool   `json:"success"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	OnChainID   string `json:"onchain_bid_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Options struct {
	RunID     string
	Mode      string
	Reason    string
	Err       error
	LastBlock uint64
	Context   *auction.Context
	Now       time.Time
}

// Build turns registry records into a summary. Every record appears exactly
// once, in registration order.
func Build(records []registry.Record, opts Options) Summary {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	s := Summary{
		RunID:       opts.RunID,
		GeneratedAt: now.UTC(),
		Mode:        opts.Mode,
		Reason:      opts.Reason,
		LastBlock:   opts.LastBlock,
		Bids:        make([]BidOutcome, 0, len(records)),
	}
	if opts.Err != nil {
		s.Error = opts.Err.Error()
	}
	if c := opts.Context; c != nil {
		s.Auction = &Auction{
			CCA:           c.Addresses.CCA.Hex(),
			FloorPrice:    bigString(c.Ladder.Floor),
			TickSpacing:   bigString(c.Ladder.Spacing),
			MaxBidPrice:   bigString(c.Ladder.Max),
			StartBlock:    c.Window.Start,
			EndBlock:      c.Window.End,
			SnapshotBlock: c.SnapshotBlock,
		}
	}

	submitted := new(big.Int)
	for _, rec := range records {
		b := BidOutcome{
			ID:        int(rec.ID),
			Status:    rec.Status.String(),
			Attempts:  rec.Attempts,
			LastError: rec.LastError,
			Reason:    rec.Reason,
		}
		if rec.Status == registry.StatusSubmitted {
			b.TxHash = rec.TxHash.Hex()
		}
		if p := rec.Planned; p != nil {
			b.Owner = p.Owner.Hex()
			b.AmountWei = bigString(p.Amount)
			b.AmountEth = ethutil.FormatEther(p.Amount)
			b.RequestedPrice = bigString(p.Requested)
			b.Price = bigString(p.Price)
			b.PriceDecimal = auction.FormatPrice(p.Price)
			tick := p.Tick
			b.Tick = &tick
			b.Adjusted = p.Adjusted
		} else {
			if rec.Spec.Owner != (common.Address{}) {
				b.Owner = rec.Spec.Owner.Hex()
			}
			if rec.Spec.Amount != nil {
				b.AmountWei = bigString(rec.Spec.Amount)
				b.AmountEth = ethutil.FormatEther(rec.Spec.Amount)
			}
			b.RequestedPrice = bigString(rec.Spec.MaxPrice)
		}
		s.Bids = append(s.Bids, b)

		s.Totals.Bids++
		switch rec.Status {
		case registry.StatusSubmitted:
			s.Totals.Submitted++
			if rec.Planned != nil {
				submitted.Add(submitted, rec.Planned.Amount)
			}
		case registry.StatusExhausted:
			s.Totals.Exhausted++
		default:
			s.Totals.Pending++
		}
	}
	s.Totals.SubmittedWei = submitted.String()
	s.Totals.SubmittedEther = ethutil.FormatEther(submitted)
	return s
}

// AttachReceipts merges on-chain outcomes into the matching submitted bids.
func (s *Summary) AttachReceipts(outcomes []chainwatch.Outcome) {
	byHash := make(map[string]chainwatch.Outcome, len(outcomes))
	for _, o := range outcomes {
		byHash[o.TxHash.Hex()] = o
	}
	s.Totals.ConfirmedOnChain = 0
	for i := range s.Bids {
		o, ok := byHash[s.Bids[i].TxHash]
		if !ok || s.Bids[i].TxHash == "" {
			continue
		}
		r := &Receipt{Mined: o.Mined, Success: o.Success, BlockNumber: o.BlockNumber, GasUsed: o.GasUsed}
		if o.Bid != nil {
			r.OnChainID = o.Bid.ID.String()
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		if o.Success {
			s.Totals.ConfirmedOnChain++
		}
		s.Bids[i].Receipt = r
	}
}

// Log writes the summary through the standard logger, one line per bid.
func Log(s Summary) {
	tag := "[info]"
	if s.Totals.Pending > 0 || s.Reason != "all bids processed" {
		tag = "[warn]"
	}
	log.Printf("%s bid summary: reason=%q mode=%s submitted=%d exhausted=%d pending=%d total=%d submitted_eth=%s last_block=%d",
		tag, s.Reason, s.Mode, s.Totals.Submitted, s.Totals.Exhausted, s.Totals.Pending, s.Totals.Bids, s.Totals.SubmittedEther, s.LastBlock)
	if s.Error != "" {
		log.Printf("[warn] stop error: %s", s.Error)
	}
	for _, b := range s.Bids {
		switch b.Status {
		case registry.StatusSubmitted.String():
			log.Printf("[bid] #%d submitted owner=%s amount_eth=%s price=%s tick=%s attempts=%d tx=%s",
				b.ID, b.Owner, b.AmountEth, b.PriceDecimal, tickString(b.Tick), b.Attempts, b.TxHash)
		case registry.StatusExhausted.String():
			log.Printf("[warn] bid #%d exhausted owner=%s amount_eth=%s reason=%q attempts=%d last_error=%q",
				b.ID, b.Owner, b.AmountEth, b.Reason, b.Attempts, b.LastError)
		default:
			log.Printf("[bid] #%d %s owner=%s amount_eth=%s attempts=%d last_error=%q",
				b.ID, b.Status, b.Owner, b.AmountEth, b.Attempts, b.LastError)
		}
		if r := b.Receipt; r != nil {
			log.Printf("[bid] #%d receipt mined=%v success=%v block=%d onchain_id=%s err=%q",
				b.ID, r.Mined, r.Success, r.BlockNumber, r.OnChainID, r.Error)
		}
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func tickString(t *uint64) string {
	if t == nil {
		return "-"
	}
	return new(big.Int).SetUint64(*t).String()
}
