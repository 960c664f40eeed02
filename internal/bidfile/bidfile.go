// Package bidfile reads the TOML list of bids to place.
//
//	owner = "0x…"                    # optional default owner
//
//	[[bids]]
//	max_price = "market"             # MAX_BID_PRICE, or a raw Q96 integer
//	amount = "1000000000000000000"   # wei
//
//	[[bids]]
//	price = "0.0125"                 # currency per token, converted to Q96
//	amount_eth = "0.5"
//	owner = "0x…"
package bidfile

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/ethutil"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const MarketPrice = "market"

// Bid is one parsed entry. MaxPrice is nil when Market is set; it is resolved
// against the auction's MAX_BID_PRICE by Specs.
type Bid struct {
	MaxPrice *big.Int
	Market   bool
	Amount   *big.Int
	Owner    common.Address
}

type File struct {
	Owner common.Address
	Bids  []Bid
}

type rawBid struct {
	MaxPrice  string `toml:"max_price"`
	Price     string `toml:"price"`
	Amount    string `toml:"amount"`
	AmountEth string `toml:"amount_eth"`
	Owner     string `toml:"owner"`
}

type rawFile struct {
	Owner string   `toml:"owner"`
	Bids  []rawBid `toml:"bids"`
}

func Load(path string) (*File, error) {
	var raw rawFile
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("bid file %s: %w", path, err)
	}
	return build(md, raw, path)
}

func Parse(data string) (*File, error) {
	var raw rawFile
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("bid file: %w", err)
	}
	return build(md, raw, "")
}

func build(md toml.MetaData, raw rawFile, path string) (*File, error) {
	name := "bid file"
	if path != "" {
		name += " " + path
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys %s", name, strings.Join(keys, ", "))
	}
	if len(raw.Bids) == 0 {
		return nil, fmt.Errorf("%s: no [[bids]] entries", name)
	}

	owner, err := ethutil.ParseChecksummedAddress(raw.Owner)
	if err != nil {
		return nil, fmt.Errorf("%s: owner: %w", name, err)
	}
	f := &File{Owner: owner, Bids: make([]Bid, 0, len(raw.Bids))}
	var errs []error
	for i, rb := range raw.Bids {
		b, err := parseBid(rb, owner)
		if err != nil {
			errs = append(errs, fmt.Errorf("bids[%d]: %w", i, err))
			continue
		}
		f.Bids = append(f.Bids, b)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", name, errors.Join(errs...))
	}
	return f, nil
}

func parseBid(rb rawBid, defaultOwner common.Address) (Bid, error) {
	var b Bid
	maxPrice, price := strings.TrimSpace(rb.MaxPrice), strings.TrimSpace(rb.Price)
	switch {
	case maxPrice != "" && price != "":
		return b, errors.New("set only one of max_price and price")
	case strings.EqualFold(maxPrice, MarketPrice):
		b.Market = true
	case maxPrice != "":
		v, err := ethutil.ParseUint256(maxPrice)
		if err != nil {
			return b, fmt.Errorf("max_price: %w", err)
		}
		b.MaxPrice = v
	case price != "":
		d, err := decimal.NewFromString(price)
		if err != nil {
			return b, fmt.Errorf("price: %w", err)
		}
		v, err := auction.PriceFromDecimal(d)
		if err != nil {
			return b, fmt.Errorf("price: %w", err)
		}
		b.MaxPrice = v
	default:
		return b, errors.New("max_price or price required")
	}

	amount, amountEth := strings.TrimSpace(rb.Amount), strings.TrimSpace(rb.AmountEth)
	switch {
	case amount != "" && amountEth != "":
		return b, errors.New("set only one of amount and amount_eth")
	case amount != "":
		v, err := ethutil.ParseUint128(amount)
		if err != nil {
			return b, fmt.Errorf("amount: %w", err)
		}
		b.Amount = v
	case amountEth != "":
		v, err := ethutil.ParseEther(amountEth)
		if err != nil {
			return b, fmt.Errorf("amount_eth: %w", err)
		}
		b.Amount = v
	default:
		return b, errors.New("amount or amount_eth required")
	}

	b.Owner = defaultOwner
	if strings.TrimSpace(rb.Owner) != "" {
		owner, err := ethutil.ParseChecksummedAddress(rb.Owner)
		if err != nil {
			return b, fmt.Errorf("owner: %w", err)
		}
		b.Owner = owner
	}
	return b, nil
}

// Specs resolves market entries against maxBidPrice. Amount range and price
// bounds are left to the validator so rejections land in the summary.
func (f *File) Specs(maxBidPrice *big.Int) []auction.BidSpec {
	out := make([]auction.BidSpec, 0, len(f.Bids))
	for _, b := range f.Bids {
		price := b.MaxPrice
		if b.Market {
			price = maxBidPrice
		}
		out = append(out, auction.BidSpec{MaxPrice: price, Amount: b.Amount, Owner: b.Owner})
	}
	return out
}

// Owners lists the explicit owners named in the file.
func (f *File) Owners() []common.Address {
	var out []common.Address
	for _, b := range f.Bids {
		if b.Owner != (common.Address{}) {
			out = append(out, b.Owner)
		}
	}
	return out
}

// Single builds a one-bid file from a raw price and wei amount, as given by
// MAX_BID_PRICE and BID_AMOUNT. maxPrice may be "market".
func Single(maxPrice, amount, owner string) (*File, error) {
	var defaultOwner common.Address
	if strings.TrimSpace(owner) != "" {
		o, err := ethutil.ParseChecksummedAddress(owner)
		if err != nil {
			return nil, fmt.Errorf("owner: %w", err)
		}
		defaultOwner = o
	}
	b, err := parseBid(rawBid{MaxPrice: maxPrice, Amount: amount}, defaultOwner)
	if err != nil {
		return nil, err
	}
	return &File{Owner: defaultOwner, Bids: []Bid{b}}, nil
}
