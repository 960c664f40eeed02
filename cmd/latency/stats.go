package main

import (
	"fmt"
	"sort"
	"sync"
)

type stats struct {
	min    int64
	median int64
	p95    int64
	max    int64
}

func summarize(values []int64) stats {
	if len(values) == 0 {
		return stats{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(q float64) int64 {
		idx := int(q * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return stats{
		min:    sorted[0],
		median: pick(0.5),
		p95:    pick(0.95),
		max:    sorted[len(sorted)-1],
	}
}

// ring keeps the most recent samples in milliseconds.
type ring struct {
	mu   sync.Mutex
	buf  []int64
	next int
	full bool
	errs int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ring{buf: make([]int64, capacity)}
}

func (r *ring) add(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) fail() {
	r.mu.Lock()
	r.errs++
	r.mu.Unlock()
}

func (r *ring) snapshot() (samples []int64, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	return append([]int64(nil), r.buf[:n]...), r.errs
}

func fmtMs(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	switch {
	case ms >= 60_000:
		return fmt.Sprintf("%s%.1fm", sign, float64(ms)/60_000.0)
	case ms >= 1_000:
		return fmt.Sprintf("%s%.2fs", sign, float64(ms)/1_000.0)
	default:
		return fmt.Sprintf("%s%dms", sign, ms)
	}
}

func fmtStats(name string, r *ring) string {
	samples, errs := r.snapshot()
	if len(samples) == 0 {
		return fmt.Sprintf("%s: n/a (errors=%d)", name, errs)
	}
	st := summarize(samples)
	return fmt.Sprintf("%s: n=%d min=%s p50=%s p95=%s max=%s errors=%d",
		name, len(samples), fmtMs(st.min), fmtMs(st.median), fmtMs(st.p95), fmtMs(st.max), errs)
}
