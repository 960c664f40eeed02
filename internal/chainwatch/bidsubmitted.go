package chainwatch

import (
	"errors"
	"fmt"
	"math/big"

	"cca-bidder/internal/auction"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var BidSubmittedTopic = auction.CCAABI.Events[auction.EventBidSubmitted].ID

// ErrNoBidEvent means a receipt carried no BidSubmitted log from the auction.
var ErrNoBidEvent = errors.New("no BidSubmitted log in receipt")

type BidSubmitted struct {
	TxHash      common.Hash
	BlockHash   common.Hash
	BlockNumber uint64
	LogIndex    uint
	Removed     bool

	ID     *big.Int
	Owner  common.Address
	Price  *big.Int
	Amount *big.Int
}

func DecodeBidSubmittedLog(vLog types.Log) (*BidSubmitted, error) {
	// topics:
	// 0: event sig
	// 1: id (uint256 indexed)
	// 2: owner (address indexed)
	if len(vLog.Topics) < 3 {
		return nil, fmt.Errorf("unexpected topics len=%d", len(vLog.Topics))
	}
	if vLog.Topics[0] != BidSubmittedTopic {
		return nil, fmt.Errorf("unexpected event topic %s", vLog.Topics[0].Hex())
	}
	if len(vLog.Data) < 32*2 {
		return nil, fmt.Errorf("unexpected data len=%d", len(vLog.Data))
	}

	readU256 := func(word int) *big.Int {
		start := word * 32
		return new(big.Int).SetBytes(vLog.Data[start : start+32])
	}

	return &BidSubmitted{
		TxHash:      vLog.TxHash,
		BlockHash:   vLog.BlockHash,
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		Removed:     vLog.Removed,

		ID:    vLog.Topics[1].Big(),
		Owner: common.BytesToAddress(vLog.Topics[2].Bytes()),

		Price:  readU256(0),
		Amount: readU256(1),
	}, nil
}

// FindBidSubmitted returns the first BidSubmitted log emitted by cca in r.
func FindBidSubmitted(r *types.Receipt, cca common.Address) (*BidSubmitted, error) {
	if r == nil {
		return nil, errors.New("nil receipt")
	}
	for _, l := range r.Logs {
		if l == nil || l.Address != cca || len(l.Topics) == 0 || l.Topics[0] != BidSubmittedTopic {
			continue
		}
		return DecodeBidSubmittedLog(*l)
	}
	return nil, ErrNoBidEvent
}
