// Package dedup detects duplicate transaction business keys within and
// across ingestion batches of the same window.
package dedup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"volume-recon-go/record"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Guard keeps an arena of seen business keys per open window. Arenas expire
// when the window is finalized so memory stays bounded across a streaming
// ingestion epoch.
type Guard struct {
	mu        sync.Mutex
	threshold float64
	arenas    map[string]*arena
	log       *zap.Logger
	clock     Clock
}

type arena struct {
	window record.Window
	seen   map[string]record.Transaction // business key -> kept occurrence
	order  map[string]int                // arrival position of the kept occurrence
	next   int
	total  int
	dups   int
	dupIDs map[string]struct{}
}

// Summary reports the duplication outcome for a finalized window.
type Summary struct {
	Window          record.Window
	Total           int
	Duplicates      int
	DuplicationRate float64
	// Recommend is true when the duplication rate strictly exceeds the
	// threshold; a rate exactly at the threshold does not trip it.
	Recommend bool
	DupKeys   []string
}

// NewGuard creates a Guard with the given duplication-rate threshold.
func NewGuard(threshold float64, log *zap.Logger) *Guard {
	return &Guard{
		threshold: threshold,
		arenas:    make(map[string]*arena),
		log:       log,
		clock:     realClock{},
	}
}

// WithClock overrides the clock; used by tests.
func (g *Guard) WithClock(c Clock) *Guard {
	g.clock = c
	return g
}

// SetThreshold updates the quarantine threshold; applied at the next
// Finalize, never mid-window retroactively.
func (g *Guard) SetThreshold(t float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threshold = t
}

// Observe filters one batch against the window's arena and returns the
// records that survive. Of duplicate occurrences the earliest-seen one is
// kept; among occurrences carrying different timestamps for the same key
// the earliest timestamp wins deterministically, replacing a later one that
// happened to arrive first.
func (g *Guard) Observe(w record.Window, batch []record.Transaction) []record.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.arenas[w.Key()]
	if a == nil {
		a = &arena{
			window: w,
			seen:   make(map[string]record.Transaction),
			order:  make(map[string]int),
			dupIDs: make(map[string]struct{}),
		}
		g.arenas[w.Key()] = a
	}

	kept := make([]record.Transaction, 0, len(batch))
	for _, tx := range batch {
		a.total++
		prev, dup := a.seen[tx.ID]
		if !dup {
			a.seen[tx.ID] = tx
			a.order[tx.ID] = a.next
			a.next++
			kept = append(kept, tx)
			continue
		}
		a.dups++
		a.dupIDs[tx.ID] = struct{}{}
		if tx.Timestamp.Before(prev.Timestamp) {
			a.seen[tx.ID] = tx
		}
	}
	return kept
}

// Kept returns the deduplicated record set for the window in arrival order.
func (g *Guard) Kept(w record.Window) []record.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.arenas[w.Key()]
	if a == nil {
		return nil
	}
	out := make([]record.Transaction, 0, len(a.seen))
	for id := range a.seen {
		out = append(out, a.seen[id])
	}
	sort.Slice(out, func(i, j int) bool { return a.order[out[i].ID] < a.order[out[j].ID] })
	return out
}

// Finalize closes the window, computes its duplication outcome and expires
// the arena. The returned QualityCheckResult is either a critical
// QuarantineRecommended (rate strictly over threshold, with the offending
// key set) or an info DuplicateTransactionKey when duplicates were dropped
// quietly; nil when the window was clean.
func (g *Guard) Finalize(w record.Window) (Summary, *record.QualityCheckResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.arenas[w.Key()]
	if a == nil {
		return Summary{Window: w}, nil
	}
	delete(g.arenas, w.Key())

	sum := Summary{
		Window:     w,
		Total:      a.total,
		Duplicates: a.dups,
	}
	if a.total > 0 {
		sum.DuplicationRate = float64(a.dups) / float64(a.total)
	}
	sum.Recommend = sum.DuplicationRate > g.threshold
	sum.DupKeys = sortedKeys(a.dupIDs)

	if a.dups == 0 {
		return sum, nil
	}

	res := record.QualityCheckResult{
		ID:        uuid.NewString(),
		Scope:     record.Scope{Window: w},
		RecordIDs: sum.DupKeys,
		Count:     a.dups,
		Timestamp: g.clock.Now(),
	}
	if sum.Recommend {
		res.Kind = record.CheckQuarantineRecommended
		res.Severity = record.SeverityCritical
		res.Message = fmt.Sprintf("duplication rate %.4f exceeds threshold %.4f (%d of %d records)",
			sum.DuplicationRate, g.threshold, a.dups, a.total)
		if g.log != nil {
			g.log.Error("duplication over threshold",
				zap.Float64("rate", sum.DuplicationRate),
				zap.Float64("threshold", g.threshold),
				zap.Int("duplicates", a.dups),
				zap.Int("total", a.total))
		}
	} else {
		res.Kind = record.CheckDuplicateTransaction
		res.Severity = record.SeverityInfo
		res.Message = fmt.Sprintf("dropped %d duplicate keys (rate %.4f, earliest occurrence kept)",
			a.dups, sum.DuplicationRate)
	}
	return sum, &res
}

// Expire discards the window's arena without producing a result; used when a
// run is aborted before finalization.
func (g *Guard) Expire(w record.Window) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.arenas, w.Key())
}

// OpenWindows returns the number of arenas currently held.
func (g *Guard) OpenWindows() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.arenas)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
