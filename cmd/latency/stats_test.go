package main

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	if got := summarize(nil); got != (stats{}) {
		t.Fatalf("expected zero stats, got %+v", got)
	}
	values := make([]int64, 0, 100)
	for i := int64(100); i >= 1; i-- {
		values = append(values, i)
	}
	st := summarize(values)
	if st.min != 1 || st.max != 100 || st.median != 51 || st.p95 != 96 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if values[0] != 100 {
		t.Fatalf("input was reordered")
	}
}

func TestRing(t *testing.T) {
	r := newRing(3)
	for _, v := range []int64{1, 2, 3, 4} {
		r.add(v)
	}
	r.fail()
	got, errs := r.snapshot()
	if len(got) != 3 || errs != 1 {
		t.Fatalf("got %v errs=%d", got, errs)
	}
	sum := int64(0)
	for _, v := range got {
		sum += v
	}
	if sum != 2+3+4 {
		t.Fatalf("oldest sample not evicted: %v", got)
	}
}

func TestFmt(t *testing.T) {
	tests := map[int64]string{5: "5ms", 1500: "1.50s", 90_000: "1.5m", -20: "-20ms"}
	for in, want := range tests {
		if got := fmtMs(in); got != want {
			t.Fatalf("fmtMs(%d) = %s, want %s", in, got, want)
		}
	}
	if got := fmtStats("x", newRing(2)); !strings.Contains(got, "n/a") {
		t.Fatalf("empty ring: %s", got)
	}
}
