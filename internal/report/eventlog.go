package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cca-bidder/internal/executor"
	"cca-bidder/internal/registry"
)

// BidEvent is one line of the bid event log.
type BidEvent struct {
	TsMs  int64  `json:"ts_ms"`
	RunID string `json:"run_id,omitempty"`
	Mode  string `json:"mode"`
	Event string `json:"event"`
	Block uint64 `json:"block,omitempty"`

	BidID    *int   `json:"bid_id,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Price    string `json:"price,omitempty"`
	Amount   string `json:"amount_wei,omitempty"`
	Status   string `json:"status,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Stage    string `json:"stage,omitempty"`
	TxHash   string `json:"tx_hash,omitempty"`

	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
}

// EventLog appends BidEvents as JSON lines. A nil *EventLog discards
// everything, so callers never need to check whether logging is enabled.
//
// It is safe for concurrent use.
type EventLog struct {
	RunID string
	Mode  string

	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
	now  func() time.Time
}

// NewEventLog returns a log appending to path, or nil when path is blank.
func NewEventLog(path, runID, mode string) *EventLog {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &EventLog{RunID: runID, Mode: mode, path: path, now: time.Now}
}

func (l *EventLog) openLocked() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Write stamps ev and appends it, flushing so tailers see it immediately.
func (l *EventLog) Write(ev BidEvent) error {
	if l == nil {
		return nil
	}
	if ev.TsMs == 0 {
		ev.TsMs = l.now().UnixMilli()
	}
	if ev.RunID == "" {
		ev.RunID = l.RunID
	}
	if ev.Mode == "" {
		ev.Mode = l.Mode
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Log writes ev and only warns on failure.
func (l *EventLog) Log(ev BidEvent) {
	if err := l.Write(ev); err != nil {
		log.Printf("[warn] bid event log write failed: %v", err)
	}
}

// Observer adapts the log to executor events.
func (l *EventLog) Observer() executor.Observer {
	if l == nil {
		return nil
	}
	return func(ev executor.Event) { l.Log(FromLoopEvent(ev)) }
}

func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}

// FromLoopEvent flattens an executor event into a log line.
func FromLoopEvent(ev executor.Event) BidEvent {
	out := BidEvent{
		Event: string(ev.Kind),
		Block: ev.Block,
		Stage: string(ev.Stage),
	}
	if ev.Err != nil {
		out.Err = ev.Err.Error()
	}
	switch ev.Kind {
	case executor.EventState:
		out.From = ev.From.String()
		out.To = ev.To.String()
	case executor.EventStop:
		out.Reason = string(ev.Reason)
	}
	if rec := ev.Bid; rec != nil {
		fillRecord(&out, *rec)
	}
	return out
}

// RecordEvent builds a log line for a registry record outside the loop, such
// as a bid rejected during planning.
func RecordEvent(event string, rec registry.Record) BidEvent {
	out := BidEvent{Event: event}
	fillRecord(&out, rec)
	if rec.LastError != "" {
		out.Err = rec.LastError
	}
	return out
}

func fillRecord(out *BidEvent, rec registry.Record) {
	id := int(rec.ID)
	out.BidID = &id
	out.Status = rec.Status.String()
	out.Attempts = rec.Attempts
	if rec.Reason != "" && out.Reason == "" {
		out.Reason = rec.Reason
	}
	if rec.Status == registry.StatusSubmitted {
		out.TxHash = rec.TxHash.Hex()
	}
	if p := rec.Planned; p != nil {
		out.Owner = p.Owner.Hex()
		out.Price = bigString(p.Price)
		out.Amount = bigString(p.Amount)
		return
	}
	out.Price = bigString(rec.Spec.MaxPrice)
	out.Amount = bigString(rec.Spec.Amount)
}
