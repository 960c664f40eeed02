package auction

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Only the functions the bidder touches are declared.
//
// submitBid is overloaded on-chain; go-ethereum names the second overload
// "submitBid0", so declaration order below matters.
const ccaABIJSON = `[
  {"inputs":[],"name":"floorPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tickSpacing","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"MAX_BID_PRICE","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"endBlock","outputs":[{"internalType":"uint64","name":"","type":"uint64"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"price","type":"uint256"}],"name":"ticks","outputs":[
    {"internalType":"uint256","name":"next","type":"uint256"},
    {"internalType":"uint256","name":"currencyDemandQ96","type":"uint256"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"uint256","name":"maxPrice","type":"uint256"},
    {"internalType":"uint128","name":"amount","type":"uint128"},
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"bytes","name":"hookData","type":"bytes"}
  ],"name":"submitBid","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"inputs":[
    {"internalType":"uint256","name":"maxPrice","type":"uint256"},
    {"internalType":"uint128","name":"amount","type":"uint128"},
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"uint256","name":"prevTickPrice","type":"uint256"},
    {"internalType":"bytes","name":"hookData","type":"bytes"}
  ],"name":"submitBid","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"uint256","name":"id","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"owner","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"price","type":"uint256"},
    {"indexed":false,"internalType":"uint128","name":"amount","type":"uint128"}
  ],"name":"BidSubmitted","type":"event"}
]`

const hookABIJSON = `[
  {"inputs":[],"name":"CONTRIBUTOR_PERIOD_END_BLOCK","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"MAX_PURCHASE_LIMIT","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"sender","type":"address"}],"name":"totalPurchased","outputs":[{"internalType":"uint256","name":"totalPurchased","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const soulboundABIJSON = `[
  {"inputs":[{"internalType":"address","name":"_addr","type":"address"}],"name":"hasAnyToken","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

const (
	MethodSubmitBidWithHint = "submitBid0"
	MethodTicks             = "ticks"
	EventBidSubmitted       = "BidSubmitted"
)

var (
	CCAABI       = mustParseABI("cca", ccaABIJSON)
	HookABI      = mustParseABI("hook", hookABIJSON)
	SoulboundABI = mustParseABI("soulbound", soulboundABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("%s abi parse: %v", name, err))
	}
	return parsed
}

// Caller is the read-only slice of an RPC client the snapshot needs.
// *ethclient.Client satisfies it.
type Caller interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// CallView packs method(args...), runs it via eth_call at block (nil = latest)
// and unpacks the outputs.
func CallView(ctx context.Context, c ethereum.ContractCaller, contractABI abi.ABI, to common.Address, block *big.Int, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result (no contract at %s?)", method, to.Hex())
	}
	return contractABI.Unpack(method, out)
}
