package main

import (
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/bidfile"
	"cca-bidder/internal/chain"
	"cca-bidder/internal/dotenv"
	"cca-bidder/internal/ethutil"
	"cca-bidder/internal/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type args struct {
	rpcURL  string
	key     *ecdsa.PrivateKey
	signer  common.Address
	owner   common.Address
	addrs   auction.Addresses
	bids    *bidfile.File
	bidsSrc string

	enableBidding    bool
	requireSoulbound bool
	waitForEnd       bool
	maxAttempts      int
	pollInterval     time.Duration

	maxFee      *big.Int
	priorityFee *big.Int
	gasLimit    uint64
	accessList  bool
	classifier  *chain.Classifier

	summaryDir     string
	eventsFile     string
	metricsAddr    string
	waitReceipts   bool
	receiptTimeout time.Duration
}

const (
	defaultSummaryDir     = "./out"
	defaultPollInterval   = 12 * time.Second
	defaultReceiptTimeout = 2 * time.Minute
)

func envBool(key string, def bool) (bool, error) {
	raw := dotenv.Lookup(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func parseArgs(argv []string) (args, error) {
	fs := flag.NewFlagSet("bidder", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	enableDefault, err := envBool("ENABLE_BIDDING", false)
	if err != nil {
		return args{}, err
	}
	soulboundDefault, err := envBool("REQUIRE_SOULBOUND", false)
	if err != nil {
		return args{}, err
	}
	waitDefault, err := envBool("WAIT_FOR_END", false)
	if err != nil {
		return args{}, err
	}
	accessListDefault, err := envBool("ACCESS_LIST", false)
	if err != nil {
		return args{}, err
	}
	receiptsDefault, err := envBool("WAIT_RECEIPTS", false)
	if err != nil {
		return args{}, err
	}

	var (
		rpcFlag            string
		keyFlag            string
		ownerFlag          string
		bidsFlag           string
		maxPriceFlag       string
		amountFlag         string
		ccaFlag            string
		hookFlag           string
		soulboundFlag      string
		enableFlag         bool
		requireSBFlag      bool
		waitFlag           bool
		attemptsFlag       string
		pollFlag           string
		maxFeeFlag         string
		priorityFeeFlag    string
		gasLimitFlag       string
		accessListFlag     bool
		revertsFlag        string
		summaryDirFlag     string
		eventsFlag         string
		metricsFlag        string
		receiptsFlag       bool
		receiptTimeoutFlag string
	)

	fs.StringVar(&rpcFlag, "rpc-url", "", "Ethereum JSON-RPC URL: ws(s)/ipc subscribes to heads, http(s) polls (or RPC_URL/ETH_RPC_URL)")
	fs.StringVar(&keyFlag, "private-key", "", "Signer private key hex (or PRIVATE_KEY env)")
	fs.StringVar(&ownerFlag, "owner", "", "Default bid owner, checksummed (default: signer) (or OWNER env)")
	fs.StringVar(&bidsFlag, "bids", "", "TOML bid file (or BIDS_FILE env)")
	fs.StringVar(&maxPriceFlag, "max-price", "", "Single bid max price: Q96 integer or \"market\" (or MAX_BID_PRICE env)")
	fs.StringVar(&amountFlag, "amount", "", "Single bid amount in wei (or BID_AMOUNT env)")
	fs.StringVar(&ccaFlag, "cca", "", "CCA auction address (or CCA_ADDRESS env)")
	fs.StringVar(&hookFlag, "hook", "", "Validation hook address (or HOOK_ADDRESS env)")
	fs.StringVar(&soulboundFlag, "soulbound", "", "Soulbound token address (or SOULBOUND_ADDRESS env)")
	fs.BoolVar(&enableFlag, "enable-bidding", enableDefault, "Actually broadcast bids (default is a dry-run preflight)")
	fs.BoolVar(&requireSBFlag, "require-soulbound", soulboundDefault, "Reject owners without a soulbound token")
	fs.BoolVar(&waitFlag, "wait-for-end", waitDefault, "Keep following heads until the auction's end block")
	fs.StringVar(&attemptsFlag, "max-attempts", "", "Attempts per bid before giving up, 1-3 (default 3) (or MAX_ATTEMPTS env)")
	fs.StringVar(&pollFlag, "poll-interval", "", "Head poll interval for http RPC (default 12s) (or POLL_INTERVAL env)")
	fs.StringVar(&maxFeeFlag, "max-fee-gwei", "", "Max fee per gas override in gwei (or MAX_FEE_GWEI env)")
	fs.StringVar(&priorityFeeFlag, "priority-fee-gwei", "", "Priority fee override in gwei (or PRIORITY_FEE_GWEI env)")
	fs.StringVar(&gasLimitFlag, "gas-limit", "", "Fixed gas limit; 0 estimates (or GAS_LIMIT env)")
	fs.BoolVar(&accessListFlag, "access-list", accessListDefault, "Attach an eth_createAccessList result to each bid")
	fs.StringVar(&revertsFlag, "permanent-reverts", "", "Comma-separated revert errors that exhaust a bid at once; \"default\" expands (or PERMANENT_REVERTS env)")
	fs.StringVar(&summaryDirFlag, "summary-dir", "", "Directory for bid-summary-*.json (default ./out) (or SUMMARY_DIR env)")
	fs.StringVar(&eventsFlag, "events", "", "Optional JSONL bid event log (or BID_EVENTS_FILE env)")
	fs.StringVar(&metricsFlag, "metrics-addr", "", "Optional Prometheus listen address, e.g. :9102 (or METRICS_ADDR env)")
	fs.BoolVar(&receiptsFlag, "wait-receipts", receiptsDefault, "Wait for receipts of submitted bids before writing the summary")
	fs.StringVar(&receiptTimeoutFlag, "receipt-timeout", "", "Per-transaction receipt wait (default 2m) (or RECEIPT_TIMEOUT env)")

	if err := fs.Parse(argv); err != nil {
		return args{}, err
	}
	if fs.NArg() > 0 {
		return args{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	pick := func(flagVal string, keys ...string) string {
		if v := strings.TrimSpace(flagVal); v != "" {
			return v
		}
		return dotenv.Lookup(keys...)
	}

	out := args{
		enableBidding:    enableFlag,
		requireSoulbound: requireSBFlag,
		waitForEnd:       waitFlag,
		accessList:       accessListFlag,
		waitReceipts:     receiptsFlag,
		eventsFile:       pick(eventsFlag, "BID_EVENTS_FILE"),
		metricsAddr:      pick(metricsFlag, "METRICS_ADDR"),
		summaryDir:       pick(summaryDirFlag, "SUMMARY_DIR"),
	}
	if out.summaryDir == "" {
		out.summaryDir = defaultSummaryDir
	}

	out.rpcURL, err = validateRPCURL(pick(rpcFlag, "RPC_URL", "ETH_RPC_URL"))
	if err != nil {
		return args{}, err
	}

	keyHex := pick(keyFlag, "PRIVATE_KEY")
	if keyHex == "" {
		return args{}, errors.New("private key required via --private-key or PRIVATE_KEY")
	}
	out.key, err = ethutil.ParsePrivateKey(keyHex)
	if err != nil {
		return args{}, err
	}
	out.signer = crypto.PubkeyToAddress(out.key.PublicKey)

	ownerRaw := pick(ownerFlag, "OWNER")
	out.owner, err = ethutil.ParseChecksummedAddress(ownerRaw)
	if err != nil {
		return args{}, fmt.Errorf("invalid OWNER: %w", err)
	}

	if out.addrs.CCA, err = requiredAddress(pick(ccaFlag, "CCA_ADDRESS"), "CCA_ADDRESS"); err != nil {
		return args{}, err
	}
	if out.addrs.Hook, err = optionalAddress(pick(hookFlag, "HOOK_ADDRESS"), "HOOK_ADDRESS"); err != nil {
		return args{}, err
	}
	if out.addrs.Soulbound, err = optionalAddress(pick(soulboundFlag, "SOULBOUND_ADDRESS"), "SOULBOUND_ADDRESS"); err != nil {
		return args{}, err
	}
	if out.requireSoulbound && out.addrs.Soulbound == (common.Address{}) {
		return args{}, errors.New("require-soulbound needs SOULBOUND_ADDRESS")
	}

	bidsPath := pick(bidsFlag, "BIDS_FILE")
	maxPrice := pick(maxPriceFlag, "MAX_BID_PRICE")
	amount := pick(amountFlag, "BID_AMOUNT")
	switch {
	case bidsPath != "" && (maxPrice != "" || amount != ""):
		return args{}, errors.New("use either a bid file or MAX_BID_PRICE/BID_AMOUNT, not both")
	case bidsPath != "":
		out.bids, err = bidfile.Load(bidsPath)
		if err != nil {
			return args{}, err
		}
		out.bidsSrc = bidsPath
		if out.owner != (common.Address{}) && out.bids.Owner == (common.Address{}) {
			for i := range out.bids.Bids {
				if out.bids.Bids[i].Owner == (common.Address{}) {
					out.bids.Bids[i].Owner = out.owner
				}
			}
		}
	case maxPrice != "" || amount != "":
		if maxPrice == "" || amount == "" {
			return args{}, errors.New("single bid needs both MAX_BID_PRICE and BID_AMOUNT")
		}
		out.bids, err = bidfile.Single(maxPrice, amount, ownerRaw)
		if err != nil {
			return args{}, fmt.Errorf("single bid: %w", err)
		}
		out.bidsSrc = "env"
	default:
		return args{}, errors.New("no bids: set --bids/BIDS_FILE or MAX_BID_PRICE and BID_AMOUNT")
	}

	out.maxAttempts = registry.DefaultMaxAttempts
	if raw := pick(attemptsFlag, "MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return args{}, fmt.Errorf("invalid MAX_ATTEMPTS %q", raw)
		}
		if n > registry.DefaultMaxAttempts {
			return args{}, fmt.Errorf("MAX_ATTEMPTS %d above the %d attempt budget", n, registry.DefaultMaxAttempts)
		}
		out.maxAttempts = n
	}

	if out.pollInterval, err = parseDuration(pick(pollFlag, "POLL_INTERVAL"), defaultPollInterval, "POLL_INTERVAL"); err != nil {
		return args{}, err
	}
	if out.receiptTimeout, err = parseDuration(pick(receiptTimeoutFlag, "RECEIPT_TIMEOUT"), defaultReceiptTimeout, "RECEIPT_TIMEOUT"); err != nil {
		return args{}, err
	}

	if raw := pick(maxFeeFlag, "MAX_FEE_GWEI"); raw != "" {
		if out.maxFee, err = ethutil.ParseGwei(raw); err != nil {
			return args{}, fmt.Errorf("invalid MAX_FEE_GWEI: %w", err)
		}
	}
	if raw := pick(priorityFeeFlag, "PRIORITY_FEE_GWEI"); raw != "" {
		if out.priorityFee, err = ethutil.ParseGwei(raw); err != nil {
			return args{}, fmt.Errorf("invalid PRIORITY_FEE_GWEI: %w", err)
		}
	}
	if out.maxFee != nil && out.priorityFee != nil && out.maxFee.Cmp(out.priorityFee) < 0 {
		return args{}, fmt.Errorf("max fee %s below priority fee %s", out.maxFee, out.priorityFee)
	}
	if raw := pick(gasLimitFlag, "GAS_LIMIT"); raw != "" {
		if out.gasLimit, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return args{}, fmt.Errorf("invalid GAS_LIMIT %q: %w", raw, err)
		}
	}

	out.classifier = chain.ParseClassifier(pick(revertsFlag, "PERMANENT_REVERTS"))
	return out, nil
}

// validateRPCURL accepts ws(s), http(s) and ipc endpoints and rejects provider
// templates that were never filled in.
func validateRPCURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("RPC URL required via --rpc-url or RPC_URL/ETH_RPC_URL")
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"),
		strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"),
		strings.HasSuffix(lower, ".ipc"):
	default:
		return "", fmt.Errorf("RPC URL must be ws(s)://, http(s):// or an .ipc path, got %q", raw)
	}
	if strings.Contains(raw, "YOUR_KEY") || strings.Contains(raw, "<") {
		return "", fmt.Errorf("RPC URL still contains a placeholder; set RPC_URL to your provider URL")
	}
	return raw, nil
}

func requiredAddress(raw, name string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s required", name)
	}
	return optionalAddress(raw, name)
}

func optionalAddress(raw, name string) (common.Address, error) {
	addr, err := ethutil.ParseChecksummedAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return addr, nil
}

func parseDuration(raw string, def time.Duration, name string) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("invalid %s %q: must be positive", name, raw)
		}
		return d, nil
	}
	secs, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || secs == 0 {
		return 0, fmt.Errorf("invalid %s %q: want a duration like 12s or whole seconds", name, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func bidMode(enableBidding bool) string {
	if enableBidding {
		return "live"
	}
	return "dry"
}
