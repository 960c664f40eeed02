package metrics

import (
	"errors"
	"io"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/executor"
	"cca-bidder/internal/registry"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserver(t *testing.T) {
	m := New()
	m.now = func() time.Time { return time.Unix(1700000000, 0) }

	reg := registry.New(3)
	id := reg.Register(auction.BidSpec{}, auction.PlannedBid{Price: big.NewInt(1), Amount: big.NewInt(1)})
	obs := m.Observer(reg)

	obs(executor.Event{Kind: executor.EventHead, Block: 42})
	obs(executor.Event{Kind: executor.EventState, From: executor.WaitingForWindow, To: executor.Bidding})

	if _, err := reg.Apply(id, registry.Outcome{Err: errors.New("nonce too low")}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	obs(executor.Event{Kind: executor.EventAttempt, Stage: executor.StageSend, Err: errors.New("nonce too low"), Elapsed: 200 * time.Millisecond})
	obs(executor.Event{Kind: executor.EventAttempt, Elapsed: time.Second})

	exhausted := registry.Record{Reason: registry.ReasonWindowClosed}
	obs(executor.Event{Kind: executor.EventExhausted, Bid: &exhausted})
	obs(executor.Event{Kind: executor.EventStop, Reason: executor.ReasonWindowClosed})

	if got := testutil.ToFloat64(m.HeadBlock); got != 42 {
		t.Fatalf("head block: got %v", got)
	}
	if got := testutil.ToFloat64(m.LastHeadTime); got != 1700000000 {
		t.Fatalf("last head time: got %v", got)
	}
	if got := testutil.ToFloat64(m.LoopState.WithLabelValues("bidding")); got != 1 {
		t.Fatalf("bidding state: got %v", got)
	}
	if got := testutil.ToFloat64(m.LoopState.WithLabelValues("waiting_for_window")); got != 0 {
		t.Fatalf("waiting state: got %v", got)
	}
	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("send", "failed")); got != 1 {
		t.Fatalf("failed attempts: got %v", got)
	}
	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("none", "submitted")); got != 1 {
		t.Fatalf("submitted attempts: got %v", got)
	}
	if got := testutil.ToFloat64(m.Submissions); got != 1 {
		t.Fatalf("submissions: got %v", got)
	}
	if got := testutil.ToFloat64(m.Exhaustions.WithLabelValues(registry.ReasonWindowClosed)); got != 1 {
		t.Fatalf("exhaustions: got %v", got)
	}
	if got := testutil.ToFloat64(m.StopsTotal.WithLabelValues(string(executor.ReasonWindowClosed))); got != 1 {
		t.Fatalf("stops: got %v", got)
	}
	if got := testutil.ToFloat64(m.BidsByStatus.WithLabelValues("pending")); got != 1 {
		t.Fatalf("pending gauge: got %v", got)
	}
	if got := testutil.CollectAndCount(m.AttemptLatency); got != 2 {
		t.Fatalf("latency series: got %d", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	if m.Observer(nil) != nil {
		t.Fatalf("expected nil observer")
	}
	m.Serve(t.Context(), ":0")
}

func TestHandler(t *testing.T) {
	m := New()
	m.HeadBlock.Set(7)
	m.RejectedAtStart.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	for _, want := range []string{"cca_bidder_loop_head_block 7", "cca_bidder_bids_rejected_total 1"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
