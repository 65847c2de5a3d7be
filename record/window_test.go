package record

import (
	"testing"
	"time"
)

func TestWindowHalfOpen(t *testing.T) {
	w := Day(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	if !w.Contains(w.Start) {
		t.Error("start of window must be inside")
	}
	if w.Contains(w.End) {
		t.Error("end of window must belong to the next window")
	}
	if !w.Contains(w.End.Add(-time.Nanosecond)) {
		t.Error("instant before end must be inside")
	}

	next := Day(w.End)
	if !next.Contains(w.End) {
		t.Error("end of one window must be the start of the next")
	}
}

func TestWindowSevenDaySpan(t *testing.T) {
	w := Span(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
	)
	if got, want := w.Duration(), 7*24*time.Hour; got != want {
		t.Fatalf("window spans %v, want %v", got, want)
	}
}

func TestDayNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	w := Day(time.Date(2024, 3, 15, 2, 30, 0, 0, loc)) // 2024-03-14 21:30 UTC
	want := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	if !w.Start.Equal(want) {
		t.Fatalf("window start = %v, want %v", w.Start, want)
	}
}

func TestScopeCovers(t *testing.T) {
	w := Day(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cell := WindowScope("BTC-USD", w)

	if !GlobalScope.Covers(cell) {
		t.Error("global scope must cover every cell")
	}
	if !PairScope("BTC-USD").Covers(cell) {
		t.Error("pair scope must cover its windows")
	}
	if PairScope("ETH-USD").Covers(cell) {
		t.Error("pair scope must not cover other pairs")
	}
	if cell.Covers(PairScope("BTC-USD")) {
		t.Error("window scope must not cover the whole pair")
	}
	if !cell.Covers(cell) {
		t.Error("scope must cover itself")
	}

	windowOnly := Scope{Window: w}
	if !windowOnly.Covers(cell) {
		t.Error("pair-less window scope must cover every pair in the window")
	}
	if windowOnly.Covers(WindowScope("BTC-USD", Day(w.Start.Add(48*time.Hour)))) {
		t.Error("pair-less window scope must not cover other windows")
	}
}
