package main

import (
	"log"
	"time"

	"cca-bidder/internal/auction"
	"cca-bidder/internal/executor"
)

// logObserver prints loop progress. Heads are only logged while waiting so a
// long run does not flood the log.
func logObserver(window auction.Window) executor.Observer {
	state := executor.WaitingForWindow
	return func(ev executor.Event) {
		switch ev.Kind {
		case executor.EventHead:
			if state == executor.WaitingForWindow {
				log.Printf("[loop] block %d: waiting for bidding window [%d, %d)", ev.Block, window.Start, window.End)
			}
		case executor.EventState:
			state = ev.To
			log.Printf("[loop] block %d: %s -> %s", ev.Block, ev.From, ev.To)
		case executor.EventAttempt:
			rec := ev.Bid
			if rec == nil {
				return
			}
			if ev.Err != nil {
				log.Printf("[warn] bid #%d attempt %d failed at block %d (now %s): %v", rec.ID, rec.Attempts, ev.Block, rec.Status, ev.Err)
				return
			}
			log.Printf("[bid] #%d submitted at block %d tx=%s (attempt %d, %s)", rec.ID, ev.Block, rec.TxHash.Hex(), rec.Attempts, ev.Elapsed.Round(time.Millisecond))
		case executor.EventExhausted:
			if ev.Bid != nil {
				log.Printf("[warn] bid #%d exhausted at block %d: %s", ev.Bid.ID, ev.Block, ev.Bid.Reason)
			}
		case executor.EventStop:
			if ev.Err != nil {
				log.Printf("[loop] stopped at block %d: %s: %v", ev.Block, ev.Reason, ev.Err)
				return
			}
			log.Printf("[loop] stopped at block %d: %s", ev.Block, ev.Reason)
		}
	}
}

func logPlanned(id int, bid auction.PlannedBid, ladder auction.Ladder) {
	if ladder.IsMarket(bid.Price) {
		log.Printf("[bid] #%d owner=%s amount=%s price=%s (market, top tick %d)", id, bid.Owner.Hex(), bid.Amount, auction.FormatPrice(bid.Price), bid.Tick)
		return
	}
	if bid.Adjusted {
		log.Printf("[bid] #%d owner=%s amount=%s price=%s (aligned down from %s, tick %d)",
			id, bid.Owner.Hex(), bid.Amount, auction.FormatPrice(bid.Price), auction.FormatPrice(bid.Requested), bid.Tick)
		return
	}
	log.Printf("[bid] #%d owner=%s amount=%s price=%s tick=%d", id, bid.Owner.Hex(), bid.Amount, auction.FormatPrice(bid.Price), bid.Tick)
}
