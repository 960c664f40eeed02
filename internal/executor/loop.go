package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/chain"
	"cca-bidder/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAttempt marks a failed prepare, simulate or send step.
var ErrAttempt = errors.New("bid attempt failed")

type Stage string

const (
	StagePrepare  Stage = "prepare"
	StageSimulate Stage = "simulate"
	StageSend     Stage = "send"
)

type AttemptError struct {
	Stage Stage
	Err   error
}

func (e *AttemptError) Error() string        { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *AttemptError) Is(target error) bool { return target == ErrAttempt }
func (e *AttemptError) Unwrap() error        { return e.Err }

type ChainClient interface {
	Prepare(ctx context.Context, bid auction.PlannedBid) (*chain.BidTx, error)
	Simulate(ctx context.Context, tx *chain.BidTx) error
	Send(ctx context.Context, tx *chain.BidTx) (common.Hash, error)
}

type HeadSource interface {
	Next(ctx context.Context) (chain.Head, error)
}

type State int

const (
	WaitingForWindow State = iota
	Bidding
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case WaitingForWindow:
		return "waiting_for_window"
	case Bidding:
		return "bidding"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type StopReason string

const (
	ReasonAllProcessed    StopReason = "all bids processed"
	ReasonWindowClosed    StopReason = "window closed"
	ReasonHeadStreamError StopReason = "head stream failed"
	ReasonHeadStreamEnded StopReason = "head stream ended"
	ReasonShutdown        StopReason = "shutdown"
	ReasonInvariant       StopReason = "invariant violated"
)

type Options struct {
	// WaitForEnd keeps the loop alive after the last bid settles until the
	// window's end block.
	WaitForEnd bool
	Observer   Observer
}

type Result struct {
	Reason    StopReason
	LastBlock uint64
	Pending   int
	Err       error
}

// Loop drives every registered bid through prepare → simulate → send, one
// pass per observed head. It is not safe for concurrent use.
type Loop struct {
	reg    *registry.Registry
	chain  ChainClient
	window auction.Window
	opts   Options

	state     State
	lastBlock uint64
	reason    StopReason
	err       error
}

func New(reg *registry.Registry, c ChainClient, window auction.Window, opts Options) *Loop {
	return &Loop{reg: reg, chain: c, window: window, opts: opts, state: WaitingForWindow}
}

func (l *Loop) State() State { return l.state }

func (l *Loop) Result() Result {
	return Result{Reason: l.reason, LastBlock: l.lastBlock, Pending: len(l.reg.PendingIDs()), Err: l.err}
}

// Run pulls heads until the loop stops, the head source fails or ctx is done.
func (l *Loop) Run(ctx context.Context, heads HeadSource) Result {
	if !l.reg.HasPending() && !l.opts.WaitForEnd {
		l.stop(ReasonAllProcessed, nil)
	}
	for l.state != Stopped {
		if ctx.Err() != nil {
			l.stop(ReasonShutdown, nil)
			break
		}
		h, err := heads.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				l.stop(ReasonShutdown, nil)
			case errors.Is(err, chain.ErrHeadsEnded):
				l.stop(ReasonHeadStreamEnded, err)
			default:
				l.stop(ReasonHeadStreamError, err)
			}
			break
		}
		// Step records invariant failures in the result itself.
		_ = l.Step(ctx, h)
	}
	return l.Result()
}

// Step applies the per-block rules for one head. It returns an error only
// when a registry invariant breaks, in which case the loop is Stopped.
func (l *Loop) Step(ctx context.Context, h chain.Head) error {
	if l.state == Stopped {
		return nil
	}
	l.lastBlock = h.Number
	l.emit(Event{Kind: EventHead, Block: h.Number})

	switch l.state {
	case WaitingForWindow:
		if !l.window.Opened(h.Number) {
			return nil
		}
		l.setState(Bidding, h.Number)
		return l.bid(ctx, h)
	case Bidding:
		return l.bid(ctx, h)
	case Draining:
		if l.window.Closed(h.Number) {
			l.stop(ReasonAllProcessed, nil)
		}
	}
	return nil
}

func (l *Loop) bid(ctx context.Context, h chain.Head) error {
	if l.window.Closed(h.Number) {
		ids, err := l.reg.ExhaustPending(registry.ReasonWindowClosed)
		if err != nil {
			return l.abort(err)
		}
		for _, id := range ids {
			rec, _ := l.reg.Get(id)
			l.emit(Event{Kind: EventExhausted, Block: h.Number, Bid: &rec})
		}
		if len(ids) > 0 {
			l.stop(ReasonWindowClosed, nil)
		} else {
			l.stop(ReasonAllProcessed, nil)
		}
		return nil
	}

	for _, id := range l.reg.PendingIDs() {
		if ctx.Err() != nil {
			l.stop(ReasonShutdown, nil)
			return nil
		}
		if err := l.attempt(ctx, h, id); err != nil {
			return l.abort(err)
		}
	}

	if !l.reg.HasPending() {
		if l.opts.WaitForEnd {
			l.setState(Draining, h.Number)
		} else {
			l.stop(ReasonAllProcessed, nil)
		}
	}
	return nil
}

func (l *Loop) attempt(ctx context.Context, h chain.Head, id registry.BidID) error {
	rec, ok := l.reg.Get(id)
	switch {
	case !ok:
		return &registry.InvariantError{ID: id, To: registry.StatusSubmitted, Detail: "unknown bid"}
	case rec.Status != registry.StatusPending:
		return &registry.InvariantError{ID: id, From: rec.Status, To: registry.StatusSubmitted, Detail: "attempt on non-pending bid"}
	case rec.Planned == nil:
		return &registry.InvariantError{ID: id, From: rec.Status, To: registry.StatusSubmitted, Detail: "pending bid without plan"}
	}

	// An attempt that has started runs to completion; shutdown is honoured
	// between bids.
	start := time.Now()
	hash, err := l.execute(context.WithoutCancel(ctx), *rec.Planned)
	elapsed := time.Since(start)
	out := registry.Outcome{TxHash: hash, Err: err, Permanent: errors.Is(err, chain.ErrPermanentRevert)}
	st, err := l.reg.Apply(id, out)
	if err != nil {
		return err
	}

	after, _ := l.reg.Get(id)
	ev := Event{Kind: EventAttempt, Block: h.Number, Bid: &after, Err: out.Err, Elapsed: elapsed}
	var ae *AttemptError
	if errors.As(out.Err, &ae) {
		ev.Stage = ae.Stage
	}
	l.emit(ev)
	if st.Status == registry.StatusExhausted {
		l.emit(Event{Kind: EventExhausted, Block: h.Number, Bid: &after})
	}
	return nil
}

func (l *Loop) execute(ctx context.Context, bid auction.PlannedBid) (common.Hash, error) {
	tx, err := l.chain.Prepare(ctx, bid)
	if err != nil {
		return common.Hash{}, &AttemptError{Stage: StagePrepare, Err: err}
	}
	if err := l.chain.Simulate(ctx, tx); err != nil {
		return common.Hash{}, &AttemptError{Stage: StageSimulate, Err: err}
	}
	hash, err := l.chain.Send(ctx, tx)
	if err != nil {
		return common.Hash{}, &AttemptError{Stage: StageSend, Err: err}
	}
	return hash, nil
}

func (l *Loop) abort(err error) error {
	l.stop(ReasonInvariant, err)
	return err
}

func (l *Loop) setState(s State, block uint64) {
	if l.state == s {
		return
	}
	from := l.state
	l.state = s
	l.emit(Event{Kind: EventState, Block: block, From: from, To: s})
}

func (l *Loop) stop(reason StopReason, err error) {
	if l.state == Stopped {
		return
	}
	l.reason, l.err = reason, err
	l.setState(Stopped, l.lastBlock)
	l.emit(Event{Kind: EventStop, Block: l.lastBlock, Reason: reason, Err: err})
}

func (l *Loop) emit(ev Event) {
	if l.opts.Observer != nil {
		l.opts.Observer(ev)
	}
}
