package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/chain"
	"cca-bidder/internal/chainwatch"
	"cca-bidder/internal/dotenv"
	"cca-bidder/internal/ethutil"
	"cca-bidder/internal/executor"
	"cca-bidder/internal/metrics"
	"cca-bidder/internal/registry"
	"cca-bidder/internal/report"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	reasonDryRun = "dry run"

	shutdownReceiptWait = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if err := run(parsed); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func run(parsed args) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	mode := bidMode(parsed.enableBidding)

	events := report.NewEventLog(parsed.eventsFile, runID, mode)
	if events != nil {
		log.Printf("[cfg] bid event log: %s (JSONL)", parsed.eventsFile)
		defer func() {
			if err := events.Close(); err != nil {
				log.Printf("[warn] bid event log close: %v", err)
			}
		}()
	}
	events.Log(report.BidEvent{Event: "start"})

	m := metrics.New()
	m.Serve(ctx, parsed.metricsAddr)

	log.Printf("[cfg] run %s mode=%s signer=%s bids=%d (%s)", runID, mode, parsed.signer.Hex(), len(parsed.bids.Bids), parsed.bidsSrc)
	log.Printf("[cfg] cca=%s hook=%s soulbound=%s require_soulbound=%v", parsed.addrs.CCA.Hex(), hexOrNone(parsed.addrs.Hook), hexOrNone(parsed.addrs.Soulbound), parsed.requireSoulbound)
	log.Printf("[cfg] wait_for_end=%v access_list=%v permanent_reverts=%s", parsed.waitForEnd, parsed.accessList, parsed.classifier)

	conn, err := chain.Dial(ctx, parsed.rpcURL, chain.Backoff{Base: time.Second, Max: 30 * time.Second})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer conn.Close()

	chainID, err := conn.Eth.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	owners := parsed.bids.Owners()
	if parsed.owner != (common.Address{}) {
		owners = append(owners, parsed.owner)
	}
	actx, err := auction.Fetch(ctx, conn.Eth, parsed.addrs, auction.FetchOptions{
		Signer:           parsed.signer,
		Owners:           owners,
		RequireSoulbound: parsed.requireSoulbound,
	})
	if err != nil {
		return err
	}
	log.Printf("[cfg] chain=%s snapshot=%d window=[%d, %d) floor=%s spacing=%s max=%s",
		chainID, actx.SnapshotBlock, actx.Window.Start, actx.Window.End,
		auction.FormatPrice(actx.Ladder.Floor), auction.FormatPrice(actx.Ladder.Spacing), auction.FormatPrice(actx.Ladder.Max))
	if limit := actx.Eligibility.MaxPurchaseLimit; limit != nil {
		log.Printf("[cfg] max purchase limit per owner: %s ETH", ethutil.FormatEther(limit))
	}

	reg := registry.New(parsed.maxAttempts)
	log.Printf("[cfg] max_attempts=%d per bid", reg.MaxAttempts())
	total := planBids(reg, parsed.bids.Specs(actx.MaxBidPrice()), actx, events, m)
	warnIfUnderfunded(ctx, conn, parsed.signer, total)

	copts := chain.Options{
		MaxFeePerGas:         parsed.maxFee,
		MaxPriorityFeePerGas: parsed.priorityFee,
		GasLimit:             parsed.gasLimit,
		Classifier:           parsed.classifier,
	}
	if parsed.accessList {
		copts.AccessLists = conn.Geth
	}
	client, err := chain.NewClient(conn.Eth, parsed.key, chainID, parsed.addrs.CCA, actx.Ladder.Floor, copts)
	if err != nil {
		return err
	}

	var res executor.Result
	if parsed.enableBidding {
		res = runLoop(ctx, parsed, conn, client, reg, actx, events, m)
	} else {
		res = preflight(ctx, client, reg, conn.Head, events)
	}

	summary := report.Build(reg.Snapshot(), report.Options{
		RunID:     runID,
		Mode:      mode,
		Reason:    string(res.Reason),
		Err:       res.Err,
		LastBlock: res.LastBlock,
		Context:   actx,
	})
	if parsed.waitReceipts {
		if sent := client.Sent(); len(sent) > 0 {
			if ctx.Err() != nil {
				// Let a second signal kill the process.
				stop()
				log.Printf("[info] shutting down: waiting up to %s for %d receipt(s)", shutdownReceiptWait, len(sent))
			} else {
				log.Printf("[info] waiting for %d receipt(s), up to %s each", len(sent), parsed.receiptTimeout)
			}
			rctx, cancel := receiptContext(ctx)
			summary.AttachReceipts(chainwatch.WaitReceipts(rctx, conn.Eth, parsed.addrs.CCA, sent, parsed.receiptTimeout))
			cancel()
		}
	}
	report.Log(summary)
	path, err := report.Persist(parsed.summaryDir, summary)
	if err != nil {
		log.Printf("[warn] write summary: %v", err)
	} else {
		log.Printf("[info] summary written to %s", path)
	}
	events.Log(report.BidEvent{Event: "shutdown", Block: res.LastBlock, Reason: string(res.Reason), Err: errString(res.Err)})

	if res.Reason == executor.ReasonInvariant {
		return fmt.Errorf("loop aborted: %w", res.Err)
	}
	return nil
}

// planBids registers every spec. Rejected bids are kept as exhausted so they
// still show up in the summary. It returns the total amount that will be bid.
func planBids(reg *registry.Registry, specs []auction.BidSpec, actx *auction.Context, events *report.EventLog, m *metrics.Metrics) *big.Int {
	total := new(big.Int)
	for _, entry := range auction.Plan(specs, actx) {
		if entry.Err != nil {
			id := reg.Reject(entry.Spec, entry.Err.Error())
			rec, _ := reg.Get(id)
			log.Printf("[warn] bid #%d rejected: %v", id, entry.Err)
			events.Log(report.RecordEvent("rejected", rec))
			m.RejectedAtStart.Inc()
			continue
		}
		id := reg.Register(entry.Spec, entry.Bid)
		logPlanned(int(id), entry.Bid, actx.Ladder)
		rec, _ := reg.Get(id)
		events.Log(report.RecordEvent("planned", rec))
		total.Add(total, entry.Bid.Amount)
	}
	m.SetCounts(reg.Counts())
	return total
}

func warnIfUnderfunded(ctx context.Context, conn *chain.Conn, signer common.Address, total *big.Int) {
	if total.Sign() == 0 {
		return
	}
	bal, err := conn.Eth.BalanceAt(ctx, signer, nil)
	if err != nil {
		log.Printf("[warn] balance check failed: %v", err)
		return
	}
	log.Printf("[cfg] signer balance %s ETH, bidding %s ETH", ethutil.FormatEther(bal), ethutil.FormatEther(total))
	if bal.Cmp(total) < 0 {
		log.Printf("[warn] signer balance below total bid amount; later bids will fail")
	}
}

func runLoop(ctx context.Context, parsed args, conn *chain.Conn, client *chain.Client, reg *registry.Registry, actx *auction.Context, events *report.EventLog, m *metrics.Metrics) executor.Result {
	var heads executor.HeadSource
	if chain.IsStreaming(parsed.rpcURL) {
		sub := chain.NewSubscription(parsed.rpcURL, chain.SubscriptionOptions{})
		defer sub.Close()
		heads = sub
		log.Printf("[cfg] head source: newHeads subscription")
	} else {
		heads = chain.NewPoller(conn.Eth, chain.PollerOptions{Interval: parsed.pollInterval})
		log.Printf("[cfg] head source: polling every %s", parsed.pollInterval)
	}

	loop := executor.New(reg, client, actx.Window, executor.Options{
		WaitForEnd: parsed.waitForEnd,
		Observer:   executor.Observers(logObserver(actx.Window), events.Observer(), m.Observer(reg)),
	})
	return loop.Run(ctx, heads)
}

// preflight prepares and simulates every pending bid once at the current head
// without broadcasting. Bids stay pending.
func preflight(ctx context.Context, client *chain.Client, reg *registry.Registry, head uint64, events *report.EventLog) executor.Result {
	log.Printf("[info] dry run: simulating %d bid(s) at block %d; set ENABLE_BIDDING=true to broadcast", len(reg.PendingIDs()), head)
	ok := 0
	for _, id := range reg.PendingIDs() {
		if ctx.Err() != nil {
			return executor.Result{Reason: executor.ReasonShutdown, LastBlock: head, Pending: len(reg.PendingIDs())}
		}
		rec, _ := reg.Get(id)
		ev := report.RecordEvent("preflight", rec)
		ev.Block = head

		tx, err := client.Prepare(ctx, *rec.Planned)
		if err != nil {
			ev.Stage, ev.Err = string(executor.StagePrepare), err.Error()
		} else if err = client.Simulate(ctx, tx); err != nil {
			ev.Stage, ev.Err = string(executor.StageSimulate), err.Error()
		}
		events.Log(ev)

		if err != nil {
			tag := "[warn]"
			if errors.Is(err, chain.ErrPermanentRevert) {
				tag = "[warn] permanent:"
			}
			log.Printf("%s bid #%d preflight failed at %s: %v", tag, id, ev.Stage, err)
			continue
		}
		ok++
		log.Printf("[bid] #%d preflight ok: prev_tick=%s gas=%d fee_cap=%s tip=%s", id, auction.FormatPrice(tx.PrevTickPrice), tx.Gas, tx.GasFeeCap, tx.GasTipCap)
	}
	log.Printf("[info] dry run: %d/%d bid(s) simulated cleanly", ok, len(reg.PendingIDs()))
	return executor.Result{Reason: reasonDryRun, LastBlock: head, Pending: len(reg.PendingIDs())}
}

// receiptContext is the context receipts are awaited on. After a shutdown
// signal it no longer follows ctx and is capped at shutdownReceiptWait, so
// bids already broadcast still get their receipts.
func receiptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(context.WithoutCancel(ctx), shutdownReceiptWait)
}

func hexOrNone(a common.Address) string {
	if a == (common.Address{}) {
		return "none"
	}
	return a.Hex()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
