package registry

import (
	"fmt"
	"sync"

	"cca-bidder/internal/auction"

	"github.com/ethereum/go-ethereum/common"
)

const DefaultMaxAttempts = 3

type BidID int

// Record is the registry's view of one bid. Planned is nil for bids rejected
// before they could be aligned.
type Record struct {
	ID        BidID
	Spec      auction.BidSpec
	Planned   *auction.PlannedBid
	Status    Status
	TxHash    common.Hash
	Attempts  int
	LastError string
	Reason    string
}

// Registry owns the lifecycle of every configured bid. IDs are assigned in
// registration order and PendingIDs reports them in that order.
type Registry struct {
	mu          sync.Mutex
	records     []Record
	maxAttempts int
}

// New returns an empty registry. maxAttempts outside 1..DefaultMaxAttempts
// falls back to DefaultMaxAttempts.
func New(maxAttempts int) *Registry {
	if maxAttempts <= 0 || maxAttempts > DefaultMaxAttempts {
		maxAttempts = DefaultMaxAttempts
	}
	return &Registry{maxAttempts: maxAttempts}
}

func (r *Registry) MaxAttempts() int { return r.maxAttempts }

// Register adds an aligned bid in the Pending state.
func (r *Registry) Register(spec auction.BidSpec, planned auction.PlannedBid) BidID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := BidID(len(r.records))
	r.records = append(r.records, Record{ID: id, Spec: spec, Planned: &planned, Status: StatusPending})
	return id
}

// Reject adds a bid that failed validation. It starts, and stays, Exhausted.
func (r *Registry) Reject(spec auction.BidSpec, reason string) BidID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := BidID(len(r.records))
	r.records = append(r.records, Record{ID: id, Spec: spec, Status: StatusExhausted, Reason: reason})
	return id
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Registry) Get(id BidID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || int(id) >= len(r.records) {
		return Record{}, false
	}
	return r.records[id], true
}

func (r *Registry) PendingIDs() []BidID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BidID
	for _, rec := range r.records {
		if rec.Status == StatusPending {
			out = append(out, rec.ID)
		}
	}
	return out
}

func (r *Registry) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Status == StatusPending {
			return true
		}
	}
	return false
}

// Transition moves one bid along a legal edge. Illegal edges, unknown IDs and
// attempt-consuming edges past the attempt limit return an *InvariantError and
// leave the record untouched.
func (r *Registry) Transition(id BidID, next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || int(id) >= len(r.records) {
		return &InvariantError{ID: id, To: next.Status, Detail: "unknown bid"}
	}
	rec := &r.records[id]
	if !legal[rec.Status][next.Status] {
		return &InvariantError{ID: id, From: rec.Status, To: next.Status}
	}
	if consumesAttempt(rec.Status, next.Status) {
		if rec.Attempts >= r.maxAttempts {
			return &InvariantError{ID: id, From: rec.Status, To: next.Status, Detail: fmt.Sprintf("attempt limit %d reached", r.maxAttempts)}
		}
		rec.Attempts++
	}
	if next.Err != nil {
		rec.LastError = next.Err.Error()
	}
	switch next.Status {
	case StatusSubmitted:
		rec.TxHash = next.TxHash
	case StatusExhausted:
		rec.Reason = next.Reason
	}
	rec.Status = next.Status
	return nil
}

// Apply records the outcome of one attempt and returns the state the bid ends
// up in. Failures pass through Failed so the error is kept on the record.
func (r *Registry) Apply(id BidID, out Outcome) (State, error) {
	rec, ok := r.Get(id)
	if !ok {
		return State{}, &InvariantError{ID: id, Detail: "unknown bid"}
	}
	if rec.Status != StatusPending {
		return State{}, &InvariantError{ID: id, From: rec.Status, To: StatusPending, Detail: "attempt on non-pending bid"}
	}
	next := NextState(rec, out, r.maxAttempts)
	if out.Err != nil {
		if err := r.Transition(id, Failed(out.Err)); err != nil {
			return State{}, err
		}
	}
	if err := r.Transition(id, next); err != nil {
		return State{}, err
	}
	return next, nil
}

// ExhaustPending moves every pending bid to Exhausted with reason. No attempt
// is consumed. It returns the IDs it touched.
func (r *Registry) ExhaustPending(reason string) ([]BidID, error) {
	ids := r.PendingIDs()
	for _, id := range ids {
		if err := r.Transition(id, Exhausted(reason)); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

type Counts struct {
	Total     int
	Pending   int
	Submitted int
	Failed    int
	Exhausted int
}

func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Counts{Total: len(r.records)}
	for _, rec := range r.records {
		switch rec.Status {
		case StatusPending:
			c.Pending++
		case StatusSubmitted:
			c.Submitted++
		case StatusFailed:
			c.Failed++
		case StatusExhausted:
			c.Exhausted++
		}
	}
	return c
}
