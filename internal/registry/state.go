package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Status int

const (
	StatusPending Status = iota
	StatusSubmitted
	StatusFailed
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusFailed:
		return "failed"
	case StatusExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) Terminal() bool { return s == StatusSubmitted || s == StatusExhausted }

// Exhaustion reasons recorded by the bidder itself. Validation rejections carry
// the validator's own reason text.
const (
	ReasonAttemptsExhausted = "attempts exhausted"
	ReasonPermanentRevert   = "permanent revert"
	ReasonWindowClosed      = "window closed"
)

// State is a target state for Transition. Only the fields relevant to Status
// are read.
type State struct {
	Status Status
	TxHash common.Hash
	Err    error
	Reason string
}

func Pending() State                 { return State{Status: StatusPending} }
func Submitted(tx common.Hash) State { return State{Status: StatusSubmitted, TxHash: tx} }
func Failed(err error) State         { return State{Status: StatusFailed, Err: err} }
func Exhausted(reason string) State  { return State{Status: StatusExhausted, Reason: reason} }

// Outcome is the result of one prepare → simulate → send attempt.
type Outcome struct {
	TxHash common.Hash
	Err    error
	// Permanent marks an error that cannot resolve by retrying.
	Permanent bool
}

// NextState decides where a pending bid goes after an attempt. It is pure:
// attempts are counted from rec and the attempt being reported.
func NextState(rec Record, out Outcome, maxAttempts int) State {
	if out.Err == nil {
		return Submitted(out.TxHash)
	}
	if out.Permanent {
		return Exhausted(ReasonPermanentRevert)
	}
	if rec.Attempts+1 >= maxAttempts {
		return Exhausted(ReasonAttemptsExhausted)
	}
	return Pending()
}

// ErrIllegalTransition indicates a bug: some code tried to move a bid along an
// edge the state machine does not have.
var ErrIllegalTransition = errors.New("illegal bid state transition")

type InvariantError struct {
	ID     BidID
	From   Status
	To     Status
	Detail string
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s: bid %d %s -> %s", ErrIllegalTransition, e.ID, e.From, e.To)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *InvariantError) Unwrap() error { return ErrIllegalTransition }

// legal lists every allowed edge.
var legal = map[Status]map[Status]bool{
	StatusPending: {
		StatusSubmitted: true,
		StatusPending:   true,
		StatusFailed:    true,
		StatusExhausted: true,
	},
	StatusFailed: {
		StatusPending:   true,
		StatusExhausted: true,
	},
}

// consumesAttempt reports whether the edge records a new attempt.
func consumesAttempt(from, to Status) bool {
	return from == StatusPending && (to == StatusSubmitted || to == StatusPending || to == StatusFailed)
}
