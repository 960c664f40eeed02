package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cca-bidder/internal/auction"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the slice of *ethclient.Client used to build, check and send bids.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// AccessLister is satisfied by *gethclient.Client.
type AccessLister interface {
	CreateAccessList(ctx context.Context, msg ethereum.CallMsg) (*types.AccessList, uint64, string, error)
}

type Options struct {
	// Fee overrides; nil means derive from the node.
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	// GasLimit fixes the gas limit; 0 means estimate during Simulate.
	GasLimit uint64
	// AccessLists enables eth_createAccessList when non-nil.
	AccessLists AccessLister
	CallTimeout time.Duration
	Classifier  *Classifier
	// MaxTickWalk bounds the on-chain tick list walk for the previous-tick hint.
	MaxTickWalk int
}

// BidTx is a fully specified, unsigned submitBid transaction.
type BidTx struct {
	Bid           auction.PlannedBid
	PrevTickPrice *big.Int

	From       common.Address
	To         common.Address
	Value      *big.Int
	Data       []byte
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	AccessList types.AccessList

	// landed is set when an earlier broadcast of this bid was mined.
	landed common.Hash
}

// CallMsg is the eth_call / estimateGas form of tx. Fee fields are left out so
// the node does not require balance for the block gas limit.
func (tx *BidTx) CallMsg() ethereum.CallMsg {
	return ethereum.CallMsg{
		From:       tx.From,
		To:         &tx.To,
		Gas:        tx.Gas,
		Value:      tx.Value,
		Data:       tx.Data,
		AccessList: tx.AccessList,
	}
}

type Client struct {
	backend Backend
	auth    *bind.TransactOpts
	chainID *big.Int
	cca     common.Address
	floor   *big.Int
	opts    Options

	nonce *uint64
	sent  []*types.Transaction
	// inflight holds broadcasts at the cached nonce with unknown outcome.
	// While non-empty the nonce never moves, so a retry can only replace them.
	inflight []inflightTx
	landed   map[string]common.Hash
}

func NewClient(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, cca common.Address, floor *big.Int, opts Options) (*Client, error) {
	if backend == nil {
		return nil, errors.New("nil backend")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chain id required")
	}
	if floor == nil || floor.Sign() <= 0 {
		return nil, errors.New("floor price required")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 8 * time.Second
	}
	if opts.MaxTickWalk <= 0 {
		opts.MaxTickWalk = 10_000
	}
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(DefaultPermanentReverts)
	}
	return &Client{
		backend: backend,
		auth:    auth,
		chainID: new(big.Int).Set(chainID),
		cca:     cca,
		floor:   new(big.Int).Set(floor),
		opts:    opts,
		landed:  make(map[string]common.Hash),
	}, nil
}

func (c *Client) From() common.Address { return c.auth.From }

// Prepare resolves the previous-tick hint, nonce, fees and optional access
// list for bid.
func (c *Client) Prepare(ctx context.Context, bid auction.PlannedBid) (*BidTx, error) {
	if hash, ok := c.landed[bidKey(bid)]; ok {
		return &BidTx{Bid: bid, From: c.auth.From, To: c.cca, landed: hash}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	tx, err := c.prepare(ctx, bid)
	if err != nil {
		c.resetNonce()
		return nil, err
	}
	return tx, nil
}

func (c *Client) prepare(ctx context.Context, bid auction.PlannedBid) (*BidTx, error) {
	prev, err := c.PrevTickPrice(ctx, bid.Price)
	if err != nil {
		return nil, fmt.Errorf("prev tick: %w", err)
	}
	data, err := auction.CCAABI.Pack(auction.MethodSubmitBidWithHint, bid.Price, bid.Amount, bid.Owner, prev, []byte{})
	if err != nil {
		return nil, fmt.Errorf("pack submitBid: %w", err)
	}

	if c.nonce == nil {
		n, err := c.backend.PendingNonceAt(ctx, c.auth.From)
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		c.nonce = &n
	}

	tip, feeCap, err := c.fees(ctx)
	if err != nil {
		return nil, err
	}
	if c.pinned(*c.nonce) {
		tip, feeCap = c.replacementFees(tip, feeCap)
	}

	tx := &BidTx{
		Bid:           bid,
		PrevTickPrice: prev,
		From:          c.auth.From,
		To:            c.cca,
		Value:         new(big.Int).Set(bid.Amount),
		Data:          data,
		Nonce:         *c.nonce,
		GasTipCap:     tip,
		GasFeeCap:     feeCap,
		Gas:           c.opts.GasLimit,
	}

	if c.opts.AccessLists != nil {
		al, _, vmErr, err := c.opts.AccessLists.CreateAccessList(ctx, tx.CallMsg())
		if err != nil {
			return nil, c.opts.Classifier.Classify(fmt.Errorf("access list: %w", err))
		}
		if vmErr != "" {
			return nil, c.opts.Classifier.Classify(fmt.Errorf("access list: execution reverted: %s", vmErr))
		}
		if al != nil {
			tx.AccessList = *al
		}
	}
	return tx, nil
}

func (c *Client) fees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	if c.opts.MaxPriorityFeePerGas != nil {
		tip = new(big.Int).Set(c.opts.MaxPriorityFeePerGas)
	} else {
		tip, err = c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("suggest tip: %w", err)
		}
	}
	if c.opts.MaxFeePerGas != nil {
		feeCap = new(big.Int).Set(c.opts.MaxFeePerGas)
	} else {
		head, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("head: %w", err)
		}
		feeCap = new(big.Int).Set(tip)
		if head.BaseFee != nil {
			feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		}
	}
	if feeCap.Cmp(tip) < 0 {
		return nil, nil, fmt.Errorf("max fee %s below priority fee %s", feeCap, tip)
	}
	return tip, feeCap, nil
}

// PrevTickPrice walks the initialized-tick list from the floor and returns the
// last tick strictly below price, the insertion hint submitBid expects.
func (c *Client) PrevTickPrice(ctx context.Context, price *big.Int) (*big.Int, error) {
	if price == nil || price.Cmp(c.floor) < 0 {
		return nil, fmt.Errorf("price %v below floor %s", price, c.floor)
	}
	prev := new(big.Int).Set(c.floor)
	for i := 0; i < c.opts.MaxTickWalk; i++ {
		vals, err := auction.CallView(ctx, c.backend, auction.CCAABI, c.cca, nil, auction.MethodTicks, prev)
		if err != nil {
			return nil, err
		}
		next, ok := vals[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("ticks: unexpected type %T", vals[0])
		}
		// An uninitialized tick reads back as zero.
		if next.Cmp(price) >= 0 || next.Cmp(prev) <= 0 {
			return prev, nil
		}
		prev = next
	}
	return nil, fmt.Errorf("tick walk exceeded %d steps", c.opts.MaxTickWalk)
}

// Simulate runs tx through eth_call and, when no gas limit is fixed, sets
// tx.Gas from estimateGas plus 20% headroom.
func (c *Client) Simulate(ctx context.Context, tx *BidTx) error {
	if tx.landed != (common.Hash{}) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	msg := tx.CallMsg()
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		c.resetNonce()
		return c.opts.Classifier.Classify(fmt.Errorf("eth_call: %w", err))
	}
	if tx.Gas == 0 {
		gas, err := c.backend.EstimateGas(ctx, msg)
		if err != nil {
			c.resetNonce()
			return c.opts.Classifier.Classify(fmt.Errorf("estimate gas: %w", err))
		}
		tx.Gas = gas + gas/5
	}
	return nil
}

// Send signs tx as an EIP-1559 transaction and broadcasts it. A bid whose
// earlier broadcast turned out to be mined is not sent again; its original
// hash is returned.
//
// A failed broadcast keeps the nonce unless the node says the nonce is free or
// already used, so no bid is ever signed twice at different nonces.
func (c *Client) Send(parent context.Context, tx *BidTx) (common.Hash, error) {
	if tx.landed != (common.Hash{}) {
		delete(c.landed, bidKey(tx.Bid))
		return tx.landed, nil
	}
	if tx.Gas == 0 {
		return common.Hash{}, errors.New("send: gas limit not set (simulate first)")
	}
	ctx, cancel := context.WithTimeout(parent, c.opts.CallTimeout)
	defer cancel()

	to := tx.To
	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:    c.chainID,
		Nonce:      tx.Nonce,
		GasTipCap:  tx.GasTipCap,
		GasFeeCap:  tx.GasFeeCap,
		Gas:        tx.Gas,
		To:         &to,
		Value:      tx.Value,
		Data:       tx.Data,
		AccessList: tx.AccessList,
	})
	signed, err := c.auth.Signer(c.auth.From, unsigned)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	err = c.backend.SendTransaction(ctx, signed)
	if err == nil {
		c.accept(signed)
		return signed.Hash(), nil
	}

	key := bidKey(tx.Bid)
	switch classifySend(err) {
	case sendKnown:
		c.accept(signed)
		return signed.Hash(), nil
	case sendNonceUsed:
		if c.pinned(tx.Nonce) {
			if in := c.settleInflight(parent); in != nil && in.key == key {
				delete(c.landed, key)
				return in.tx.Hash(), nil
			}
		} else {
			c.nonce = nil
		}
	case sendUnderpriced:
		if c.pinned(tx.Nonce) {
			c.inflight = append(c.inflight, inflightTx{key: key, tx: signed})
		} else {
			c.nonce = nil
		}
	case sendRejected:
		c.resetNonce()
	default:
		if c.known(parent, signed.Hash()) {
			c.accept(signed)
			return signed.Hash(), nil
		}
		if !c.pinned(tx.Nonce) {
			c.inflight = nil
		}
		c.inflight = append(c.inflight, inflightTx{key: key, tx: signed})
		n := tx.Nonce
		c.nonce = &n
	}
	return common.Hash{}, c.opts.Classifier.Classify(fmt.Errorf("send: %w", err))
}

// Sent returns every transaction the node accepted, in send order.
func (c *Client) Sent() []*types.Transaction {
	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}
