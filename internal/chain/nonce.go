package chain

import (
	"context"
	"math/big"
	"strings"

	"cca-bidder/internal/auction"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// inflightTx is a broadcast whose acceptance by the node is unknown, usually
// because SendTransaction timed out or the connection dropped mid-call.
type inflightTx struct {
	key string
	tx  *types.Transaction
}

// sendFailure groups node errors by what they say about the nonce.
type sendFailure int

const (
	// sendUnknown: the node may or may not hold the tx.
	sendUnknown sendFailure = iota
	// sendKnown: the node already holds this exact tx.
	sendKnown
	// sendNonceUsed: a tx with this nonce is already mined.
	sendNonceUsed
	// sendUnderpriced: another tx holds this nonce in the pool.
	sendUnderpriced
	// sendRejected: the node refused the tx; the nonce is still free.
	sendRejected
)

var rejectedSendErrors = []string{
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"gas limit reached",
	"max fee per gas less than block base fee",
	"max priority fee per gas higher than max fee per gas",
	"transaction underpriced",
	"invalid sender",
	"oversized data",
	"execution reverted",
}

func classifySend(err error) sendFailure {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"):
		return sendKnown
	case strings.Contains(msg, "nonce too low"):
		return sendNonceUsed
	case strings.Contains(msg, "replacement transaction underpriced"):
		return sendUnderpriced
	}
	for _, s := range rejectedSendErrors {
		if strings.Contains(msg, s) {
			return sendRejected
		}
	}
	return sendUnknown
}

func bidKey(b auction.PlannedBid) string {
	return b.Owner.Hex() + "/" + bigStr(b.Price) + "/" + bigStr(b.Amount)
}

func bigStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// bumpFee returns v raised by 12.5% plus one wei, enough for the common
// replacement rules (geth requires 10%).
func bumpFee(v *big.Int) *big.Int {
	out := new(big.Int).Rsh(v, 3)
	out.Add(out, v)
	return out.Add(out, common.Big1)
}

// resetNonce drops the cached nonce unless an unconfirmed broadcast pins it.
func (c *Client) resetNonce() {
	if len(c.inflight) == 0 {
		c.nonce = nil
	}
}

// pinned reports whether nonce is held by an unconfirmed broadcast.
func (c *Client) pinned(nonce uint64) bool {
	return len(c.inflight) > 0 && c.inflight[0].tx.Nonce() == nonce
}

// replacementFees raises tip and feeCap above every unconfirmed broadcast at
// the pinned nonce so a retry replaces them instead of being refused.
func (c *Client) replacementFees(tip, feeCap *big.Int) (*big.Int, *big.Int) {
	for _, in := range c.inflight {
		if t := bumpFee(in.tx.GasTipCap()); t.Cmp(tip) > 0 {
			tip = t
		}
		if f := bumpFee(in.tx.GasFeeCap()); f.Cmp(feeCap) > 0 {
			feeCap = f
		}
	}
	if feeCap.Cmp(tip) < 0 {
		feeCap = new(big.Int).Set(tip)
	}
	return tip, feeCap
}

// accept records signed as held by the node and advances the nonce.
func (c *Client) accept(signed *types.Transaction) {
	c.inflight = nil
	next := signed.Nonce() + 1
	c.nonce = &next
	c.sent = append(c.sent, signed)
}

// known looks hash up on a context that outlives the failed send.
func (c *Client) known(ctx context.Context, hash common.Hash) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CallTimeout)
	defer cancel()
	_, _, err := c.backend.TransactionByHash(ctx, hash)
	return err == nil
}

// settleInflight resolves the unconfirmed broadcasts once their nonce is
// reported as mined. The one found on chain counts as sent; its bid is
// remembered so a later attempt for it reports that hash instead of bidding
// again. It returns the mined entry, if any.
func (c *Client) settleInflight(ctx context.Context) *inflightTx {
	pending := c.inflight
	c.inflight = nil
	c.nonce = nil
	for i := range pending {
		in := pending[i]
		if !c.known(ctx, in.tx.Hash()) {
			continue
		}
		next := in.tx.Nonce() + 1
		c.nonce = &next
		c.sent = append(c.sent, in.tx)
		c.landed[in.key] = in.tx.Hash()
		return &in
	}
	return nil
}
