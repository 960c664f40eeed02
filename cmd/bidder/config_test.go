package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cca-bidder/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var envKeys = []string{
	"RPC_URL", "ETH_RPC_URL", "PRIVATE_KEY", "OWNER", "BIDS_FILE", "MAX_BID_PRICE", "BID_AMOUNT",
	"CCA_ADDRESS", "HOOK_ADDRESS", "SOULBOUND_ADDRESS", "ENABLE_BIDDING", "REQUIRE_SOULBOUND",
	"WAIT_FOR_END", "MAX_ATTEMPTS", "POLL_INTERVAL", "MAX_FEE_GWEI", "PRIORITY_FEE_GWEI", "GAS_LIMIT",
	"ACCESS_LIST", "PERMANENT_REVERTS", "SUMMARY_DIR", "BID_EVENTS_FILE", "METRICS_ADDR",
	"WAIT_RECEIPTS", "RECEIPT_TIMEOUT",
}

var cca = common.HexToAddress("0x608c4e792c65f5527b3f70715dea44d3b302f4ee")

// baseEnv clears every variable the bidder reads and sets the minimum for a
// single env-configured bid.
func baseEnv(t *testing.T) (keyHex string) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	keyHex = "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	t.Setenv("RPC_URL", "https://rpc.example.org")
	t.Setenv("PRIVATE_KEY", keyHex)
	t.Setenv("CCA_ADDRESS", cca.Hex())
	t.Setenv("MAX_BID_PRICE", "market")
	t.Setenv("BID_AMOUNT", "1000")
	return keyHex
}

func TestParseArgs_Defaults(t *testing.T) {
	baseEnv(t)
	a, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.enableBidding || a.waitForEnd || a.requireSoulbound || a.accessList || a.waitReceipts {
		t.Fatalf("expected all switches off: %+v", a)
	}
	if a.maxAttempts != registry.DefaultMaxAttempts || a.pollInterval != defaultPollInterval || a.summaryDir != defaultSummaryDir {
		t.Fatalf("defaults mismatch: attempts=%d poll=%s dir=%s", a.maxAttempts, a.pollInterval, a.summaryDir)
	}
	if a.addrs.CCA != cca || a.addrs.Hook != (common.Address{}) {
		t.Fatalf("address mismatch: %+v", a.addrs)
	}
	if a.bidsSrc != "env" || len(a.bids.Bids) != 1 || !a.bids.Bids[0].Market {
		t.Fatalf("single bid mismatch: %+v", a.bids)
	}
	if a.maxFee != nil || a.priorityFee != nil || a.gasLimit != 0 {
		t.Fatalf("unexpected fee overrides")
	}
	if a.signer == (common.Address{}) {
		t.Fatalf("signer not derived")
	}
	if !strings.Contains(a.classifier.String(), "AuctionIsOver") {
		t.Fatalf("default classifier missing entries: %s", a.classifier)
	}
}

func TestParseArgs_FlagsOverrideEnv(t *testing.T) {
	baseEnv(t)
	t.Setenv("ENABLE_BIDDING", "false")
	t.Setenv("MAX_ATTEMPTS", "3")

	a, err := parseArgs([]string{
		"--enable-bidding",
		"--max-attempts", "2",
		"--poll-interval", "3",
		"--max-fee-gwei", "30",
		"--priority-fee-gwei", "1.5",
		"--gas-limit", "250000",
		"--permanent-reverts", "default,SomethingElse()",
		"--rpc-url", "wss://node.example.org/ws",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !a.enableBidding || a.maxAttempts != 2 || a.pollInterval != 3*time.Second {
		t.Fatalf("flag override mismatch: %+v", a)
	}
	if a.maxFee.String() != "30000000000" || a.priorityFee.String() != "1500000000" || a.gasLimit != 250_000 {
		t.Fatalf("fee mismatch: %s %s %d", a.maxFee, a.priorityFee, a.gasLimit)
	}
	if a.rpcURL != "wss://node.example.org/ws" {
		t.Fatalf("rpc url: %s", a.rpcURL)
	}
	if !strings.Contains(a.classifier.String(), "SomethingElse()") {
		t.Fatalf("classifier missing custom entry: %s", a.classifier)
	}
}

func TestParseArgs_BidFile(t *testing.T) {
	baseEnv(t)
	t.Setenv("MAX_BID_PRICE", "")
	t.Setenv("BID_AMOUNT", "")
	owner := common.HexToAddress("0x2dd6e0e331de9743635590f6c8bc5038374cac9d")
	t.Setenv("OWNER", owner.Hex())

	path := filepath.Join(t.TempDir(), "bids.toml")
	doc := "[[bids]]\nprice = \"0.5\"\namount_eth = \"1\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	t.Setenv("BIDS_FILE", path)

	a, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.bidsSrc != path || len(a.bids.Bids) != 1 || a.bids.Bids[0].Owner != owner {
		t.Fatalf("bid file mismatch: %+v", a.bids)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	tests := map[string]struct {
		env  map[string]string
		argv []string
		want string
	}{
		"missing rpc":        {env: map[string]string{"RPC_URL": ""}, want: "RPC URL required"},
		"placeholder rpc":    {env: map[string]string{"RPC_URL": "https://eth.example.org/v2/YOUR_KEY"}, want: "placeholder"},
		"bad scheme":         {env: map[string]string{"RPC_URL": "ftp://x"}, want: "must be"},
		"missing key":        {env: map[string]string{"PRIVATE_KEY": ""}, want: "private key required"},
		"missing cca":        {env: map[string]string{"CCA_ADDRESS": ""}, want: "CCA_ADDRESS required"},
		"no bids":            {env: map[string]string{"MAX_BID_PRICE": "", "BID_AMOUNT": ""}, want: "no bids"},
		"half single bid":    {env: map[string]string{"BID_AMOUNT": ""}, want: "both MAX_BID_PRICE and BID_AMOUNT"},
		"file and single":    {env: map[string]string{"BIDS_FILE": "bids.toml"}, want: "either a bid file"},
		"bad attempts":       {env: map[string]string{"MAX_ATTEMPTS": "0"}, want: "MAX_ATTEMPTS"},
		"attempts too high":  {env: map[string]string{"MAX_ATTEMPTS": "4"}, want: "attempt budget"},
		"bad bool":           {env: map[string]string{"ENABLE_BIDDING": "maybe"}, want: "ENABLE_BIDDING"},
		"bad poll":           {env: map[string]string{"POLL_INTERVAL": "-1s"}, want: "POLL_INTERVAL"},
		"fee below tip":      {env: map[string]string{"MAX_FEE_GWEI": "1", "PRIORITY_FEE_GWEI": "2"}, want: "below priority fee"},
		"soulbound required": {env: map[string]string{"REQUIRE_SOULBOUND": "true"}, want: "SOULBOUND_ADDRESS"},
		"stray argument":     {argv: []string{"extra"}, want: "unexpected arguments"},
		"unknown flag":       {argv: []string{"--nope"}, want: "nope"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			baseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := parseArgs(tc.argv)
			if err == nil {
				t.Fatalf("expected err")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{"": time.Minute, "15": 15 * time.Second, "250ms": 250 * time.Millisecond} {
		got, err := parseDuration(in, time.Minute, "X")
		if err != nil || got != want {
			t.Fatalf("%q: got %s err %v", in, got, err)
		}
	}
	if _, err := parseDuration("0", time.Minute, "X"); err == nil {
		t.Fatalf("expected err for zero")
	}
}
