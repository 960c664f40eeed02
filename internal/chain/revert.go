package chain

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrPermanentRevert marks failures that no retry can fix.
var ErrPermanentRevert = errors.New("permanent revert")

// DefaultPermanentReverts names auction reverts that stay true for the rest of
// the window. Entries with parentheses are matched by error selector, the rest
// by substring of the node's error message.
var DefaultPermanentReverts = []string{
	"AuctionIsOver",
	"AuctionSoldOut",
	"AuctionIsOver()",
	"AuctionSoldOut()",
	"BidMustBeAboveClearingPrice()",
	"BidOwnerCannotBeZeroAddress()",
}

// RevertError is a node error recognised as an EVM revert, or one matching a
// configured permanent pattern.
type RevertError struct {
	Err       error
	Data      []byte
	Reason    string
	Match     string
	Permanent bool
}

func (e *RevertError) Error() string {
	msg := e.Err.Error()
	if e.Reason != "" && !strings.Contains(msg, e.Reason) {
		msg += " (" + e.Reason + ")"
	}
	if e.Permanent {
		msg += " [permanent: " + e.Match + "]"
	}
	return msg
}

func (e *RevertError) Is(target error) bool { return target == ErrPermanentRevert && e.Permanent }
func (e *RevertError) Unwrap() error        { return e.Err }

type Classifier struct {
	substrings []string
	selectors  map[[4]byte]string
}

// NewClassifier builds a classifier from pattern entries. An entry that looks
// like a Solidity error signature, e.g. "AuctionIsOver()", matches revert data
// by selector; anything else matches message text.
func NewClassifier(entries []string) *Classifier {
	c := &Classifier{selectors: make(map[[4]byte]string)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "(") && strings.HasSuffix(e, ")") {
			var sel [4]byte
			copy(sel[:], crypto.Keccak256([]byte(e))[:4])
			c.selectors[sel] = e
			continue
		}
		c.substrings = append(c.substrings, e)
	}
	return c
}

// ParseClassifier reads a comma separated pattern list. "default" expands to
// DefaultPermanentReverts; an empty string means the defaults alone.
func ParseClassifier(raw string) *Classifier {
	if strings.TrimSpace(raw) == "" {
		return NewClassifier(DefaultPermanentReverts)
	}
	var entries []string
	for _, part := range splitPatterns(raw) {
		if strings.EqualFold(part, "default") {
			entries = append(entries, DefaultPermanentReverts...)
			continue
		}
		entries = append(entries, part)
	}
	return NewClassifier(entries)
}

// splitPatterns splits on commas outside parentheses so signatures with
// arguments survive.
func splitPatterns(raw string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range raw {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(raw[start:]))
}

// Classify wraps err in a *RevertError when it is a revert or matches a
// permanent pattern. Other errors, such as transport failures, pass through.
func (c *Classifier) Classify(err error) error {
	if err == nil {
		return nil
	}
	var existing *RevertError
	if errors.As(err, &existing) {
		return err
	}

	data := revertData(err)
	msg := err.Error()
	rev := &RevertError{Err: err, Data: data}
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		rev.Reason = reason
	}

	if c != nil {
		if len(data) >= 4 {
			var sel [4]byte
			copy(sel[:], data[:4])
			if name, ok := c.selectors[sel]; ok {
				rev.Match, rev.Permanent = name, true
			}
		}
		if !rev.Permanent {
			for _, s := range c.substrings {
				if strings.Contains(msg, s) || (rev.Reason != "" && strings.Contains(rev.Reason, s)) {
					rev.Match, rev.Permanent = s, true
					break
				}
			}
		}
	}

	if rev.Permanent || len(data) > 0 || strings.Contains(strings.ToLower(msg), "revert") {
		return rev
	}
	return err
}

func (c *Classifier) String() string {
	if c == nil {
		return "none"
	}
	parts := append([]string(nil), c.substrings...)
	for _, name := range c.selectors {
		parts = append(parts, name)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d patterns %v", len(parts), parts)
}

// revertData extracts the raw revert payload carried by JSON-RPC errors.
func revertData(err error) []byte {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil
	}
	switch v := de.ErrorData().(type) {
	case string:
		b, derr := hexutil.Decode(v)
		if derr != nil {
			return nil
		}
		return b
	case []byte:
		return bytes.Clone(v)
	default:
		return nil
	}
}
