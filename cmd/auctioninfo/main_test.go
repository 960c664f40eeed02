package main

import (
	"math/big"
	"strings"
	"testing"

	"cca-bidder/internal/auction"

	"github.com/ethereum/go-ethereum/common"
)

func TestDescribe(t *testing.T) {
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")
	eth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	actx := &auction.Context{
		Addresses: auction.Addresses{Soulbound: common.HexToAddress("0x03")},
		Ladder:    auction.Ladder{Floor: auction.Q96, Spacing: auction.Q96, Max: new(big.Int).Mul(big.NewInt(4), auction.Q96)},
		Window:    auction.Window{Start: 100, End: 200},
		Eligibility: auction.Eligibility{
			MaxPurchaseLimit: new(big.Int).Mul(big.NewInt(3), eth),
			Purchased:        map[common.Address]*big.Int{owner: eth},
			Soulbound:        map[common.Address]bool{owner: true},
		},
		SnapshotBlock: 90,
	}

	out := strings.Join(describe(actx, owner, eth), "\n")
	for _, want := range []string{
		"window: [100, 200) opens in 10 blocks",
		"max_bid_price: 4 ",
		"ticks: 4",
		"remaining_eth: 2",
		"soulbound: true",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	actx.SnapshotBlock = 250
	actx.Eligibility.MaxPurchaseLimit = nil
	actx.Addresses.Soulbound = common.Address{}
	out = strings.Join(describe(actx, owner, eth), "\n")
	if !strings.Contains(out, "closed") || !strings.Contains(out, "purchase_limit_eth: none") || strings.Contains(out, "soulbound") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestResolveOwnerAddress(t *testing.T) {
	t.Setenv("OWNER", "")
	t.Setenv("PRIVATE_KEY", "")
	if _, _, err := resolveOwnerAddress(""); err == nil {
		t.Fatalf("expected err")
	}
	want := common.HexToAddress("0x2dd6e0e331de9743635590f6c8bc5038374cac9d")
	t.Setenv("OWNER", want.Hex())
	got, src, err := resolveOwnerAddress("")
	if err != nil || got != want || src != "OWNER" {
		t.Fatalf("got %s %s %v", got.Hex(), src, err)
	}
}
