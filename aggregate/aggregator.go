package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"volume-recon-go/record"
	"volume-recon-go/store"
)

// ErrPublishBlockedByQuarantine is returned when a publish targets a
// quarantined scope. The publish fails loudly; it is never skipped silently.
var ErrPublishBlockedByQuarantine = errors.New("publish blocked by quarantine")

// QuarantineReader is the read side of the quarantine registry.
type QuarantineReader interface {
	Quarantined(scope record.Scope) bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Aggregator owns the VolumeAggregate lifecycle: it computes aggregates from
// clean transactions and publishes them with per-key serialization.
type Aggregator struct {
	store store.AggregateStore
	quar  QuarantineReader
	log   *zap.Logger
	clock Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (pair, window) publish serialization
}

// New creates an Aggregator.
func New(st store.AggregateStore, quar QuarantineReader, log *zap.Logger) *Aggregator {
	return &Aggregator{
		store: st,
		quar:  quar,
		log:   log,
		clock: realClock{},
		locks: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock; used by tests.
func (a *Aggregator) WithClock(c Clock) *Aggregator {
	a.clock = c
	return a
}

// AverageRates computes the window's mean average-rate per pair.
func AverageRates(rates []record.Rate, w record.Window) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range rates {
		if !w.Contains(r.Timestamp) {
			continue
		}
		sums[r.Pair] += r.AvgRate
		counts[r.Pair]++
	}
	out := make(map[string]float64, len(sums))
	for pair, sum := range sums {
		out[pair] = sum / float64(counts[pair])
	}
	return out
}

// Compute produces one aggregate per traded pair plus the "all" rollup for
// the window under the given rule. Only completed trades inside the
// half-open window contribute; deposits, withdrawals and transfers are
// excluded by definition, not by configuration. Compute is pure: identical
// inputs yield identical volumes.
func (a *Aggregator) Compute(txns []record.Transaction, rates []record.Rate, w record.Window, rule Rule) []record.VolumeAggregate {
	avgRates := AverageRates(rates, w)
	volumes := make(map[string]float64)
	var total float64

	for _, tx := range txns {
		if tx.Kind != record.KindTrade || tx.Status != record.StatusCompleted {
			continue
		}
		if !w.Contains(tx.Timestamp) {
			continue
		}
		contrib := rule.Contribution(tx, avgRates[tx.Pair])
		volumes[tx.Pair] += contrib
		total += contrib
	}

	pairs := make([]string, 0, len(volumes))
	for pair := range volumes {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	now := a.clock.Now()
	out := make([]record.VolumeAggregate, 0, len(pairs)+1)
	for _, pair := range pairs {
		out = append(out, record.VolumeAggregate{
			Pair:        pair,
			Window:      w,
			Volume:      volumes[pair],
			RuleVersion: rule.Version(),
			ComputedAt:  now,
		})
	}
	out = append(out, record.VolumeAggregate{
		Pair:        record.PairAll,
		Window:      w,
		Volume:      total,
		RuleVersion: rule.Version(),
		ComputedAt:  now,
	})
	return out
}

// Publish writes one aggregate to the store. Writes for the same
// (pair, window) are serialized; a quarantined scope fails with
// ErrPublishBlockedByQuarantine before anything is written, so previously
// published values stay untouched.
func (a *Aggregator) Publish(ctx context.Context, agg record.VolumeAggregate) error {
	lock := a.keyLock(agg.Pair, agg.Window)
	lock.Lock()
	defer lock.Unlock()

	scope := record.WindowScope(agg.Pair, agg.Window)
	if a.quar != nil && a.quar.Quarantined(scope) {
		if a.log != nil {
			a.log.Warn("publish blocked",
				zap.String("scope", scope.String()),
				zap.String("rule", string(agg.RuleVersion)))
		}
		return fmt.Errorf("%w: %s", ErrPublishBlockedByQuarantine, scope)
	}
	if err := a.store.PutAggregate(ctx, agg); err != nil {
		return fmt.Errorf("publish aggregate %s: %w", agg.Key(), err)
	}
	if a.log != nil {
		a.log.Info("aggregate published",
			zap.String("pair", agg.Pair),
			zap.String("window", agg.Window.String()),
			zap.String("rule", string(agg.RuleVersion)),
			zap.Float64("volume", agg.Volume))
	}
	return nil
}

// PublishAll publishes a computed set, stopping at the first error.
func (a *Aggregator) PublishAll(ctx context.Context, aggs []record.VolumeAggregate) error {
	for _, agg := range aggs {
		if err := a.Publish(ctx, agg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) keyLock(pair string, w record.Window) *sync.Mutex {
	key := pair + "|" + w.Key()
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}
