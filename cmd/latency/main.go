// Command latency measures how quickly an RPC endpoint answers and delivers
// new heads, to help pick between subscription and polling and to size
// POLL_INTERVAL for the bidder.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cca-bidder/internal/chain"
	"cca-bidder/internal/dotenv"
	"cca-bidder/internal/executor"
)

type args struct {
	rpcURL     string
	interval   time.Duration
	duration   time.Duration
	printEvery time.Duration
	sampleCap  int
}

func parseArgs() (args, error) {
	var a args
	var rpcFlag string
	flag.StringVar(&rpcFlag, "rpc-url", "", "Ethereum JSON-RPC URL (or RPC_URL/ETH_RPC_URL)")
	flag.DurationVar(&a.interval, "interval", time.Second, "eth_blockNumber probe interval")
	flag.DurationVar(&a.duration, "duration", time.Minute, "How long to run (0 = until Ctrl+C)")
	flag.DurationVar(&a.printEvery, "print-every", 10*time.Second, "Progress print interval")
	flag.IntVar(&a.sampleCap, "samples", 4096, "Samples kept per metric")
	flag.Parse()

	a.rpcURL = rpcFlag
	if a.rpcURL == "" {
		a.rpcURL = dotenv.Lookup("RPC_URL", "ETH_RPC_URL")
	}
	if a.rpcURL == "" {
		return args{}, errors.New("RPC URL required via --rpc-url or RPC_URL/ETH_RPC_URL")
	}
	return a, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)
	log.SetOutput(os.Stdout)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}
	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if parsed.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(baseCtx, parsed.duration)
		defer cancel()
	}

	conn, err := chain.Dial(ctx, parsed.rpcURL, chain.Backoff{Tries: 3})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer conn.Close()

	log.Printf("Latency probe starting (duration=%s, interval=%s, streaming=%v)", parsed.duration, parsed.interval, chain.IsStreaming(parsed.rpcURL))

	calls := newRing(parsed.sampleCap)
	headLag := newRing(parsed.sampleCap)
	headGap := newRing(parsed.sampleCap)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(parsed.interval)
		defer t.Stop()
		for {
			start := time.Now()
			if _, err := conn.Eth.BlockNumber(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				calls.fail()
			} else {
				calls.add(time.Since(start).Milliseconds())
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	var heads executor.HeadSource
	if chain.IsStreaming(parsed.rpcURL) {
		sub := chain.NewSubscription(parsed.rpcURL, chain.SubscriptionOptions{})
		defer sub.Close()
		heads = sub
	} else {
		heads = chain.NewPoller(conn.Eth, chain.PollerOptions{Interval: parsed.interval})
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last time.Time
		for {
			h, err := heads.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[warn] head stream: %v", err)
				}
				return
			}
			now := time.Now()
			if h.Time > 0 {
				headLag.add(now.Sub(time.Unix(int64(h.Time), 0)).Milliseconds())
			}
			if !last.IsZero() {
				headGap.add(now.Sub(last).Milliseconds())
			}
			last = now
		}
	}()

	printTicker := time.NewTicker(parsed.printEvery)
	defer printTicker.Stop()
	printStats := func() {
		log.Printf("%s | %s | %s", fmtStats("eth_blockNumber", calls), fmtStats("head_lag", headLag), fmtStats("head_gap", headGap))
	}
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Printf("Final summary:")
			printStats()
			return
		case <-printTicker.C:
			printStats()
		}
	}
}
