package ethutil

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	weiPerGwei = decimal.New(1, 9)
	weiPerEth  = decimal.New(1, 18)
)

// ParseAddress accepts any 0x-prefixed hex address. An empty string yields
// the zero address.
func ParseAddress(raw string) (common.Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid hex address %q", raw)
	}
	return common.HexToAddress(s), nil
}

// ParseChecksummedAddress is ParseAddress that additionally rejects mixed-case
// input whose EIP-55 checksum does not match.
func ParseChecksummedAddress(raw string) (common.Address, error) {
	addr, err := ParseAddress(raw)
	if err != nil || addr == (common.Address{}) {
		return addr, err
	}
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if s == strings.ToLower(s) || s == strings.ToUpper(s) {
		return addr, nil
	}
	if addr.Hex()[2:] != s {
		return common.Address{}, fmt.Errorf("address %q fails EIP-55 checksum (want %s)", raw, addr.Hex())
	}
	return addr, nil
}

// ParseUint256 parses a decimal or 0x-prefixed hex integer in [0, 2^256).
func ParseUint256(raw string) (*big.Int, error) {
	return parseBounded(raw, MaxUint256, "uint256")
}

func ParseUint128(raw string) (*big.Int, error) {
	return parseBounded(raw, MaxUint128, "uint128")
}

func parseBounded(raw string, max *big.Int, kind string) (*big.Int, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if s == "" {
		return nil, fmt.Errorf("empty %s", kind)
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("%q is not a valid %s", raw, kind)
	}
	if v.Sign() < 0 || v.Cmp(max) > 0 {
		return nil, fmt.Errorf("%q out of %s range", raw, kind)
	}
	return v, nil
}

// ParseGwei converts a decimal gwei amount such as "1.5" to wei.
func ParseGwei(raw string) (*big.Int, error) {
	return parseScaled(raw, weiPerGwei, "gwei")
}

// ParseEther converts a decimal ether amount to wei.
func ParseEther(raw string) (*big.Int, error) {
	return parseScaled(raw, weiPerEth, "ether")
}

func parseScaled(raw string, scale decimal.Decimal, unit string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid %s amount %q: %w", unit, raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative %s amount %q", unit, raw)
	}
	wei := d.Mul(scale)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%s amount %q has sub-wei precision", unit, raw)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as ether, trimming trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEth).String()
}

func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("private key missing")
	}
	hexKey = strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}
