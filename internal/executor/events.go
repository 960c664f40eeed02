package executor

import (
	"time"

	"cca-bidder/internal/registry"
)

type EventKind string

const (
	EventHead      EventKind = "head"
	EventState     EventKind = "state"
	EventAttempt   EventKind = "attempt"
	EventExhausted EventKind = "exhausted"
	EventStop      EventKind = "stop"
)

// Event reports loop progress. Bid holds the record after the change.
type Event struct {
	Kind   EventKind
	Block  uint64
	Bid    *registry.Record
	Stage  Stage
	Err    error
	From   State
	To     State
	Reason StopReason

	// Elapsed is the wall time of an attempt.
	Elapsed time.Duration
}

// Observer receives events synchronously on the loop goroutine.
type Observer func(Event)

// Observers fans one event out to several observers.
func Observers(obs ...Observer) Observer {
	return func(ev Event) {
		for _, o := range obs {
			if o != nil {
				o(ev)
			}
		}
	}
}
