package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/chain"
	"cca-bidder/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

var (
	signer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	window = auction.Window{Start: 10, End: 15}
)

// fakeChain scripts per-price failures. Each stage pops one error per call;
// an empty queue means success.
type fakeChain struct {
	prepareErr map[int64][]error
	simErr     map[int64][]error
	sendErr    map[int64][]error

	prepares map[int64]int
	sends    map[int64]int
	onSend   func(price int64)
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		prepareErr: map[int64][]error{},
		simErr:     map[int64][]error{},
		sendErr:    map[int64][]error{},
		prepares:   map[int64]int{},
		sends:      map[int64]int{},
	}
}

func pop(m map[int64][]error, k int64) error {
	q := m[k]
	if len(q) == 0 {
		return nil
	}
	m[k] = q[1:]
	return q[0]
}

func (f *fakeChain) Prepare(ctx context.Context, bid auction.PlannedBid) (*chain.BidTx, error) {
	p := bid.Price.Int64()
	f.prepares[p]++
	if err := pop(f.prepareErr, p); err != nil {
		return nil, err
	}
	return &chain.BidTx{Bid: bid, Value: bid.Amount}, nil
}

func (f *fakeChain) Simulate(ctx context.Context, tx *chain.BidTx) error {
	return pop(f.simErr, tx.Bid.Price.Int64())
}

func (f *fakeChain) Send(ctx context.Context, tx *chain.BidTx) (common.Hash, error) {
	p := tx.Bid.Price.Int64()
	if err := pop(f.sendErr, p); err != nil {
		return common.Hash{}, err
	}
	f.sends[p]++
	if f.onSend != nil {
		f.onSend(p)
	}
	return common.BigToHash(big.NewInt(p)), nil
}

type fakeHeads struct {
	heads []uint64
	end   error
}

func (f *fakeHeads) Next(ctx context.Context) (chain.Head, error) {
	if err := ctx.Err(); err != nil {
		return chain.Head{}, err
	}
	if len(f.heads) == 0 {
		if f.end == nil {
			return chain.Head{}, chain.ErrHeadsEnded
		}
		return chain.Head{}, f.end
	}
	n := f.heads[0]
	f.heads = f.heads[1:]
	return chain.Head{Number: n}, nil
}

func register(reg *registry.Registry, price int64, owner common.Address) registry.BidID {
	spec := auction.BidSpec{MaxPrice: big.NewInt(price), Amount: big.NewInt(1), Owner: owner}
	return reg.Register(spec, auction.PlannedBid{Owner: owner, Amount: big.NewInt(1), Price: big.NewInt(price), Requested: big.NewInt(price)})
}

func step(t *testing.T, l *Loop, blocks ...uint64) {
	t.Helper()
	for _, b := range blocks {
		if err := l.Step(context.Background(), chain.Head{Number: b}); err != nil {
			t.Fatalf("block %d: unexpected err: %v", b, err)
		}
	}
}

var transient = errors.New("nonce too low")

func TestLoop_SubmitsOnceWhenWindowOpens(t *testing.T) {
	reg := registry.New(3)
	market := register(reg, 300, signer)
	aligned := register(reg, 100, other)
	fc := newFakeChain()
	l := New(reg, fc, window, Options{})

	step(t, l, 8, 9)
	if l.State() != WaitingForWindow || len(fc.prepares) != 0 {
		t.Fatalf("no attempts expected before window: state=%s prepares=%v", l.State(), fc.prepares)
	}

	step(t, l, 10)
	for _, id := range []registry.BidID{market, aligned} {
		rec, _ := reg.Get(id)
		if rec.Status != registry.StatusSubmitted || rec.Attempts != 1 {
			t.Fatalf("bid %d: %+v", id, rec)
		}
	}
	if l.State() != Stopped || l.Result().Reason != ReasonAllProcessed {
		t.Fatalf("unexpected result: %s %+v", l.State(), l.Result())
	}

	step(t, l, 11, 12)
	if fc.sends[300] != 1 || fc.sends[100] != 1 {
		t.Fatalf("expected exactly one send per bid: %v", fc.sends)
	}
}

func TestLoop_RetryThenSucceed(t *testing.T) {
	reg := registry.New(3)
	id := register(reg, 200, signer)
	fc := newFakeChain()
	fc.simErr[200] = []error{transient, transient}
	l := New(reg, fc, window, Options{})

	step(t, l, 10)
	if rec, _ := reg.Get(id); rec.Status != registry.StatusPending || rec.Attempts != 1 || rec.LastError == "" {
		t.Fatalf("after block 10: %+v", rec)
	}
	step(t, l, 11)
	if rec, _ := reg.Get(id); rec.Attempts != 2 {
		t.Fatalf("after block 11: %+v", rec)
	}
	step(t, l, 12)
	rec, _ := reg.Get(id)
	if rec.Status != registry.StatusSubmitted || rec.Attempts != 3 {
		t.Fatalf("after block 12: %+v", rec)
	}
	if fc.sends[200] != 1 {
		t.Fatalf("expected one send, got %d", fc.sends[200])
	}
}

func TestLoop_WindowCloseExhaustsPending(t *testing.T) {
	reg := registry.New(3)
	id := register(reg, 200, signer)
	fc := newFakeChain()
	fc.sendErr[200] = []error{transient, transient, transient}
	l := New(reg, fc, window, Options{})

	step(t, l, 13, 14)
	if rec, _ := reg.Get(id); rec.Attempts != 2 || rec.Status != registry.StatusPending {
		t.Fatalf("before close: %+v", rec)
	}
	step(t, l, 15)
	rec, _ := reg.Get(id)
	if rec.Status != registry.StatusExhausted || rec.Reason != registry.ReasonWindowClosed || rec.Attempts != 2 {
		t.Fatalf("after close: %+v", rec)
	}
	if fc.prepares[200] != 2 {
		t.Fatalf("window close must not consume an attempt: prepares=%d", fc.prepares[200])
	}
	if r := l.Result(); r.Reason != ReasonWindowClosed || r.LastBlock != 15 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestLoop_AttemptsAreBounded(t *testing.T) {
	reg := registry.New(3)
	failing := register(reg, 200, signer)
	ok := register(reg, 300, other)
	fc := newFakeChain()
	fc.prepareErr[200] = []error{transient, transient, transient, transient}
	fc.simErr[300] = []error{transient}
	l := New(reg, fc, window, Options{})

	step(t, l, 10, 11, 12)
	rec, _ := reg.Get(failing)
	if rec.Status != registry.StatusExhausted || rec.Reason != registry.ReasonAttemptsExhausted || rec.Attempts != 3 {
		t.Fatalf("failing bid: %+v", rec)
	}
	if okRec, _ := reg.Get(ok); okRec.Status != registry.StatusSubmitted || okRec.Attempts != 2 {
		t.Fatalf("independent bid: %+v", okRec)
	}
	step(t, l, 13)
	if fc.prepares[200] != 3 {
		t.Fatalf("expected 3 attempts, got %d", fc.prepares[200])
	}
	if l.Result().Reason != ReasonAllProcessed {
		t.Fatalf("unexpected reason: %s", l.Result().Reason)
	}
}

func TestLoop_PermanentRevertExhaustsImmediately(t *testing.T) {
	reg := registry.New(3)
	id := register(reg, 200, signer)
	fc := newFakeChain()
	fc.simErr[200] = []error{&chain.RevertError{Err: errors.New("execution reverted"), Match: "AuctionIsOver()", Permanent: true}}

	var events []Event
	l := New(reg, fc, window, Options{Observer: func(ev Event) { events = append(events, ev) }})
	step(t, l, 10)

	rec, _ := reg.Get(id)
	if rec.Status != registry.StatusExhausted || rec.Reason != registry.ReasonPermanentRevert || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	var sawAttempt bool
	for _, ev := range events {
		if ev.Kind == EventAttempt {
			sawAttempt = true
			if ev.Stage != StageSimulate || !errors.Is(ev.Err, ErrAttempt) || !errors.Is(ev.Err, chain.ErrPermanentRevert) {
				t.Fatalf("unexpected attempt event: %+v", ev)
			}
		}
	}
	if !sawAttempt {
		t.Fatalf("no attempt event")
	}
}

func TestLoop_WaitForEndDrains(t *testing.T) {
	reg := registry.New(3)
	register(reg, 200, signer)
	l := New(reg, newFakeChain(), window, Options{WaitForEnd: true})

	step(t, l, 10)
	if l.State() != Draining {
		t.Fatalf("expected draining, got %s", l.State())
	}
	step(t, l, 14)
	if l.State() != Draining {
		t.Fatalf("expected draining, got %s", l.State())
	}
	step(t, l, 15)
	if l.State() != Stopped || l.Result().Reason != ReasonAllProcessed {
		t.Fatalf("unexpected result: %s %+v", l.State(), l.Result())
	}
}

func TestLoop_InvariantViolationStops(t *testing.T) {
	reg := registry.New(3)
	first := register(reg, 200, signer)
	second := register(reg, 300, other)
	fc := newFakeChain()
	l := New(reg, fc, window, Options{Observer: func(ev Event) {
		if ev.Kind == EventAttempt && ev.Bid.ID == first {
			_ = reg.Transition(second, registry.Exhausted("external"))
		}
	}})

	err := l.Step(context.Background(), chain.Head{Number: 10})
	if !errors.Is(err, registry.ErrIllegalTransition) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if l.State() != Stopped || l.Result().Reason != ReasonInvariant {
		t.Fatalf("unexpected result: %+v", l.Result())
	}
	if fc.prepares[300] != 0 {
		t.Fatalf("bid %d must not be attempted", second)
	}
}

func TestRun_StopReasons(t *testing.T) {
	t.Run("all_processed", func(t *testing.T) {
		reg := registry.New(3)
		register(reg, 200, signer)
		res := New(reg, newFakeChain(), window, Options{}).Run(context.Background(), &fakeHeads{heads: []uint64{9, 10, 11}})
		if res.Reason != ReasonAllProcessed || res.LastBlock != 10 || res.Pending != 0 {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("nothing_to_do", func(t *testing.T) {
		reg := registry.New(3)
		reg.Reject(auction.BidSpec{}, "amount must be positive")
		res := New(reg, newFakeChain(), window, Options{}).Run(context.Background(), &fakeHeads{})
		if res.Reason != ReasonAllProcessed {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("stream_ended", func(t *testing.T) {
		reg := registry.New(3)
		register(reg, 200, signer)
		res := New(reg, newFakeChain(), window, Options{}).Run(context.Background(), &fakeHeads{heads: []uint64{5}, end: chain.ErrHeadsEnded})
		if res.Reason != ReasonHeadStreamEnded || res.Pending != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("stream_failed", func(t *testing.T) {
		reg := registry.New(3)
		register(reg, 200, signer)
		boom := errors.New("websocket: close 1006")
		res := New(reg, newFakeChain(), window, Options{}).Run(context.Background(), &fakeHeads{end: boom})
		if res.Reason != ReasonHeadStreamError || !errors.Is(res.Err, boom) {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("shutdown_between_bids", func(t *testing.T) {
		reg := registry.New(3)
		first := register(reg, 200, signer)
		second := register(reg, 300, other)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fc := newFakeChain()
		fc.onSend = func(int64) { cancel() }

		res := New(reg, fc, window, Options{}).Run(ctx, &fakeHeads{heads: []uint64{10, 11}})
		if res.Reason != ReasonShutdown {
			t.Fatalf("unexpected result: %+v", res)
		}
		if rec, _ := reg.Get(first); rec.Status != registry.StatusSubmitted {
			t.Fatalf("in-flight attempt should complete: %+v", rec)
		}
		if rec, _ := reg.Get(second); rec.Status != registry.StatusPending || rec.Attempts != 0 {
			t.Fatalf("second bid should be untouched: %+v", rec)
		}
	})
}

func TestLoop_TerminatesWithEveryBidTerminal(t *testing.T) {
	reg := registry.New(3)
	for p := int64(100); p <= 500; p += 100 {
		register(reg, p, signer)
	}
	fc := newFakeChain()
	fc.simErr[100] = []error{transient, transient, transient}
	fc.sendErr[300] = []error{transient}
	fc.prepareErr[500] = []error{transient, transient, transient, transient, transient}

	res := New(reg, fc, window, Options{}).Run(context.Background(), &fakeHeads{heads: []uint64{10, 11, 12, 13, 14, 15, 16}, end: chain.ErrHeadsEnded})
	if res.Reason != ReasonAllProcessed {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, rec := range reg.Snapshot() {
		if !rec.Status.Terminal() {
			t.Fatalf("bid %d not terminal: %+v", rec.ID, rec)
		}
		if rec.Attempts > 3 {
			t.Fatalf("bid %d exceeded attempts: %d", rec.ID, rec.Attempts)
		}
	}
	for p, n := range fc.sends {
		if n > 1 {
			t.Fatalf("price %d sent %d times", p, n)
		}
	}
}
