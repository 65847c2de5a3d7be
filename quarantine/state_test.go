package quarantine

import (
	"testing"
	"time"

	"volume-recon-go/record"
)

var now = time.Date(2024, 1, 2, 0, 15, 0, 0, time.UTC)

func TestTransitionLifecycle(t *testing.T) {
	r := NewRegistry()
	scope := record.PairScope("BTC-USD")

	entry, changed, err := r.Transition(scope, StateQuarantined, "variance breach", now)
	if err != nil || !changed {
		t.Fatalf("quarantine transition: changed=%v err=%v", changed, err)
	}
	if entry.State != StateQuarantined || entry.Reason != "variance breach" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	entry, changed, err = r.Transition(scope, StateClear, "operator verified upstream fix", now.Add(time.Hour))
	if err != nil || !changed {
		t.Fatalf("clear transition: changed=%v err=%v", changed, err)
	}
	if entry.Resolution != "operator verified upstream fix" {
		t.Fatalf("resolution not recorded: %+v", entry)
	}
	if r.Quarantined(scope) {
		t.Fatal("scope should be clear")
	}
}

func TestTransitionIdempotentSameState(t *testing.T) {
	r := NewRegistry()
	scope := record.PairScope("ETH-USD")

	r.Transition(scope, StateQuarantined, "first", now)
	_, changed, err := r.Transition(scope, StateQuarantined, "second", now)
	if err != nil {
		t.Fatalf("same-state transition must not error: %v", err)
	}
	if changed {
		t.Fatal("same-state transition must be a no-op")
	}
}

func TestClearScopeStartsClear(t *testing.T) {
	r := NewRegistry()
	_, changed, err := r.Transition(record.PairScope("BTC-USD"), StateClear, "noop", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("clearing an already-clear scope must be a no-op")
	}
}

func TestQuarantinedCoversNarrowerScopes(t *testing.T) {
	r := NewRegistry()
	w := record.Day(now)
	cell := record.WindowScope("BTC-USD", w)

	r.Transition(record.PairScope("BTC-USD"), StateQuarantined, "pair-wide", now)

	if !r.Quarantined(cell) {
		t.Fatal("pair quarantine must cover its window cells")
	}
	if r.Quarantined(record.WindowScope("ETH-USD", w)) {
		t.Fatal("other pairs must stay clear")
	}
	if got := r.Status(cell); got != "degraded" {
		t.Fatalf("status = %q, want degraded", got)
	}
	if got := r.Status(record.PairScope("ETH-USD")); got != "ok" {
		t.Fatalf("status = %q, want ok", got)
	}
}

func TestGlobalQuarantineCoversEverything(t *testing.T) {
	r := NewRegistry()
	r.Transition(record.GlobalScope, StateQuarantined, "systemic", now)

	if !r.Quarantined(record.WindowScope("ANY-PAIR", record.Day(now))) {
		t.Fatal("global quarantine must cover every scope")
	}
}

func TestSnapshotOmitsClearScopes(t *testing.T) {
	r := NewRegistry()
	r.Transition(record.PairScope("BTC-USD"), StateQuarantined, "x", now)
	r.Transition(record.PairScope("ETH-USD"), StateQuarantined, "y", now)
	r.Transition(record.PairScope("ETH-USD"), StateClear, "resolved", now)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}
	if snap[0].Scope.Pair != "BTC-USD" {
		t.Fatalf("unexpected snapshot entry: %+v", snap[0])
	}
}
