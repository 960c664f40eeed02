// Command auctioninfo prints the auction snapshot the bidder would act on,
// plus the wallet balance and remaining purchase limit of one owner.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/chain"
	"cca-bidder/internal/dotenv"
	"cca-bidder/internal/ethutil"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var addrFlag, rpcFlag, ccaFlag, hookFlag, soulboundFlag string
	flag.StringVar(&addrFlag, "address", "", "Owner to check (default: OWNER or signer from PRIVATE_KEY)")
	flag.StringVar(&rpcFlag, "rpc-url", "", "Ethereum JSON-RPC URL (or RPC_URL/ETH_RPC_URL)")
	flag.StringVar(&ccaFlag, "cca", "", "CCA auction address (or CCA_ADDRESS)")
	flag.StringVar(&hookFlag, "hook", "", "Validation hook address (or HOOK_ADDRESS)")
	flag.StringVar(&soulboundFlag, "soulbound", "", "Soulbound token address (or SOULBOUND_ADDRESS)")
	flag.Parse()

	rpcURL := firstNonEmpty(rpcFlag, dotenv.Lookup("RPC_URL", "ETH_RPC_URL"))
	if rpcURL == "" {
		log.Fatalf("[fatal] RPC URL required via --rpc-url or RPC_URL")
	}
	var addrs auction.Addresses
	var err error
	for _, a := range []struct {
		dst  *common.Address
		flag string
		env  string
	}{
		{&addrs.CCA, ccaFlag, "CCA_ADDRESS"},
		{&addrs.Hook, hookFlag, "HOOK_ADDRESS"},
		{&addrs.Soulbound, soulboundFlag, "SOULBOUND_ADDRESS"},
	} {
		if *a.dst, err = ethutil.ParseChecksummedAddress(firstNonEmpty(a.flag, dotenv.Lookup(a.env))); err != nil {
			log.Fatalf("[fatal] invalid %s: %v", a.env, err)
		}
	}

	owner, ownerSrc, err := resolveOwnerAddress(addrFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conn, err := chain.Dial(ctx, rpcURL, chain.Backoff{Tries: 2})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer conn.Close()

	actx, err := auction.Fetch(ctx, conn.Eth, addrs, auction.FetchOptions{Signer: owner})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	bal, err := conn.Eth.BalanceAt(ctx, owner, new(big.Int).SetUint64(actx.SnapshotBlock))
	if err != nil {
		log.Fatalf("[fatal] balance: %v", err)
	}

	fmt.Printf("owner: %s (%s)\n", owner.Hex(), ownerSrc)
	for _, line := range describe(actx, owner, bal) {
		fmt.Println(line)
	}
}

// describe renders the snapshot as "key: value" lines.
func describe(actx *auction.Context, owner common.Address, balance *big.Int) []string {
	w := actx.Window
	status := "open"
	switch {
	case actx.SnapshotBlock < w.Start:
		status = fmt.Sprintf("opens in %d blocks", w.Start-actx.SnapshotBlock)
	case w.Closed(actx.SnapshotBlock):
		status = "closed"
	}

	lines := []string{
		fmt.Sprintf("snapshot_block: %d", actx.SnapshotBlock),
		fmt.Sprintf("window: [%d, %d) %s", w.Start, w.End, status),
		fmt.Sprintf("floor_price: %s (q96=%s)", auction.FormatPrice(actx.Ladder.Floor), actx.Ladder.Floor),
		fmt.Sprintf("tick_spacing: %s (q96=%s)", auction.FormatPrice(actx.Ladder.Spacing), actx.Ladder.Spacing),
		fmt.Sprintf("max_bid_price: %s (q96=%s)", auction.FormatPrice(actx.Ladder.Max), actx.Ladder.Max),
		fmt.Sprintf("ticks: %d", actx.Ladder.TopIndex()+1),
		fmt.Sprintf("balance_eth: %s", ethutil.FormatEther(balance)),
	}
	if left := actx.Eligibility.Remaining(owner); left != nil {
		lines = append(lines,
			fmt.Sprintf("purchase_limit_eth: %s", ethutil.FormatEther(actx.Eligibility.MaxPurchaseLimit)),
			fmt.Sprintf("purchased_eth: %s", ethutil.FormatEther(bigOrZero(actx.Eligibility.Purchased[owner]))),
			fmt.Sprintf("remaining_eth: %s", ethutil.FormatEther(left)),
		)
	} else {
		lines = append(lines, "purchase_limit_eth: none")
	}
	if actx.Addresses.Soulbound != (common.Address{}) {
		lines = append(lines, fmt.Sprintf("soulbound: %v", actx.Eligibility.Soulbound[owner]))
	}
	return lines
}

func resolveOwnerAddress(addrFlag string) (common.Address, string, error) {
	if raw := strings.TrimSpace(addrFlag); raw != "" {
		addr, err := ethutil.ParseChecksummedAddress(raw)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("invalid --address: %w", err)
		}
		return addr, "--address", nil
	}
	if raw := dotenv.Lookup("OWNER"); raw != "" {
		addr, err := ethutil.ParseChecksummedAddress(raw)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("invalid OWNER: %w", err)
		}
		return addr, "OWNER", nil
	}
	if pkHex := dotenv.Lookup("PRIVATE_KEY"); pkHex != "" {
		pk, err := ethutil.ParsePrivateKey(pkHex)
		if err != nil {
			return common.Address{}, "", err
		}
		return crypto.PubkeyToAddress(pk.PublicKey), "PRIVATE_KEY", nil
	}
	return common.Address{}, "", fmt.Errorf("owner required: set OWNER, PRIVATE_KEY, or pass --address")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
