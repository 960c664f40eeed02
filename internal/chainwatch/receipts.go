package chainwatch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Outcome is what a mined bid transaction did on chain.
type Outcome struct {
	TxHash            common.Hash
	Mined             bool
	Success           bool
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Bid               *BidSubmitted
	Err               error
}

// WaitReceipts waits for each transaction to be mined, up to timeout per
// transaction, and decodes the auction's BidSubmitted log from successful
// receipts.
func WaitReceipts(ctx context.Context, b bind.DeployBackend, cca common.Address, txs []*types.Transaction, timeout time.Duration) []Outcome {
	out := make([]Outcome, 0, len(txs))
	for _, tx := range txs {
		out = append(out, waitOne(ctx, b, cca, tx, timeout))
	}
	return out
}

func waitOne(ctx context.Context, b bind.DeployBackend, cca common.Address, tx *types.Transaction, timeout time.Duration) Outcome {
	o := Outcome{TxHash: tx.Hash()}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r, err := bind.WaitMined(waitCtx, b, tx)
	if err != nil {
		o.Err = fmt.Errorf("wait mined: %w", err)
		return o
	}
	o.Mined = true
	o.Success = r.Status == types.ReceiptStatusSuccessful
	o.GasUsed = r.GasUsed
	o.EffectiveGasPrice = r.EffectiveGasPrice
	if r.BlockNumber != nil {
		o.BlockNumber = r.BlockNumber.Uint64()
	}
	if !o.Success {
		o.Err = errors.New("transaction reverted on chain")
		return o
	}
	bid, err := FindBidSubmitted(r, cca)
	if err != nil {
		o.Err = err
		return o
	}
	o.Bid = bid
	return o
}
