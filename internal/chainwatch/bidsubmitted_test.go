package chainwatch

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	cca   = common.HexToAddress("0x608c4e792c65f5527b3f70715dea44d3b302f4ee")
	owner = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func bidLog(addr common.Address, id, price, amount uint64) *types.Log {
	var data [32 * 2]byte
	put := func(word int, v uint64) {
		b := new(big.Int).SetUint64(v).FillBytes(make([]byte, 32))
		copy(data[word*32:(word+1)*32], b)
	}
	put(0, price)
	put(1, amount)

	return &types.Log{
		Address:     addr,
		TxHash:      common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		BlockHash:   common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		BlockNumber: 123,
		Index:       7,
		Topics: []common.Hash{
			BidSubmittedTopic,
			common.BigToHash(new(big.Int).SetUint64(id)),
			common.BytesToHash(owner.Bytes()),
		},
		Data: data[:],
	}
}

func TestDecodeBidSubmittedLog(t *testing.T) {
	ev, err := DecodeBidSubmittedLog(*bidLog(cca, 42, 300, 5_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID.Int64() != 42 || ev.Owner != owner {
		t.Fatalf("indexed decode mismatch: id=%s owner=%s", ev.ID, ev.Owner.Hex())
	}
	if ev.Price.String() != "300" || ev.Amount.String() != "5000" {
		t.Fatalf("data decode mismatch: price=%s amount=%s", ev.Price, ev.Amount)
	}
	if ev.LogIndex != 7 || ev.BlockNumber != 123 {
		t.Fatalf("cursor mismatch: block=%d idx=%d", ev.BlockNumber, ev.LogIndex)
	}

	wrong := bidLog(cca, 1, 1, 1)
	wrong.Topics[0] = common.HexToHash("0x01")
	if _, err := DecodeBidSubmittedLog(*wrong); err == nil {
		t.Fatalf("expected err for foreign topic")
	}
	short := bidLog(cca, 1, 1, 1)
	short.Data = short.Data[:32]
	if _, err := DecodeBidSubmittedLog(*short); err == nil {
		t.Fatalf("expected err for short data")
	}
}

func TestFindBidSubmitted(t *testing.T) {
	r := &types.Receipt{Logs: []*types.Log{
		bidLog(common.HexToAddress("0x01"), 1, 1, 1), // same event, other contract
		{Address: cca, Topics: []common.Hash{common.HexToHash("0x02")}},
		bidLog(cca, 9, 200, 10),
	}}
	ev, err := FindBidSubmitted(r, cca)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.ID.Int64() != 9 {
		t.Fatalf("picked wrong log: id=%s", ev.ID)
	}
	if _, err := FindBidSubmitted(&types.Receipt{}, cca); !errors.Is(err, ErrNoBidEvent) {
		t.Fatalf("expected ErrNoBidEvent, got %v", err)
	}
}

type fakeDeployBackend struct {
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeDeployBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeDeployBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func TestWaitReceipts(t *testing.T) {
	ok := types.NewTx(&types.DynamicFeeTx{Nonce: 1})
	reverted := types.NewTx(&types.DynamicFeeTx{Nonce: 2})
	missing := types.NewTx(&types.DynamicFeeTx{Nonce: 3})

	b := &fakeDeployBackend{receipts: map[common.Hash]*types.Receipt{
		ok.Hash(): {
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(20),
			GasUsed:     90_000,
			Logs:        []*types.Log{bidLog(cca, 5, 300, 1)},
		},
		reverted.Hash(): {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(21)},
	}}

	out := WaitReceipts(context.Background(), b, cca, []*types.Transaction{ok, reverted, missing}, 50*time.Millisecond)
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
	if !out[0].Success || out[0].Bid == nil || out[0].Bid.ID.Int64() != 5 || out[0].BlockNumber != 20 {
		t.Fatalf("ok outcome mismatch: %+v", out[0])
	}
	if !out[1].Mined || out[1].Success || out[1].Err == nil {
		t.Fatalf("reverted outcome mismatch: %+v", out[1])
	}
	if out[2].Mined || out[2].Err == nil {
		t.Fatalf("missing outcome mismatch: %+v", out[2])
	}
}
