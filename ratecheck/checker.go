// Package ratecheck flags exchange-rate observations that deviate
// anomalously from the prior period's closing rate.
package ratecheck

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"volume-recon-go/record"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// PriorCloses holds the previous window's closing rate per pair.
type PriorCloses map[string]float64

// Anomaly is one flagged observation, surfaced to the reconciliation monitor
// as a candidate explanation for variance.
type Anomaly struct {
	Pair      string
	Timestamp time.Time
	Rate      float64
	Prior     float64
	Deviation float64
}

// Checker compares each rate against the prior close for its pair. Findings
// are warnings only: anomalous rates never block ingestion.
type Checker struct {
	mu        sync.Mutex
	threshold float64
	anomalies []Anomaly
	clock     Clock
}

// New creates a Checker with the given relative-deviation threshold.
func New(threshold float64) *Checker {
	return &Checker{threshold: threshold, clock: realClock{}}
}

// WithClock overrides the clock; used by tests.
func (c *Checker) WithClock(cl Clock) *Checker {
	c.clock = cl
	return c
}

// SetThreshold updates the deviation threshold for subsequent checks.
func (c *Checker) SetThreshold(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = t
}

// Check examines the window's rates against prior closes and returns one
// warning RateAnomaly result per flagged observation. Pairs without a prior
// close are skipped: there is no baseline to deviate from.
func (c *Checker) Check(rates []record.Rate, prior PriorCloses) []record.QualityCheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var results []record.QualityCheckResult
	for _, r := range rates {
		base, ok := prior[r.Pair]
		if !ok || base <= 0 {
			continue
		}
		dev := math.Abs(r.AvgRate-base) / base
		if dev <= c.threshold {
			continue
		}
		c.anomalies = append(c.anomalies, Anomaly{
			Pair:      r.Pair,
			Timestamp: r.Timestamp,
			Rate:      r.AvgRate,
			Prior:     base,
			Deviation: dev,
		})
		results = append(results, record.QualityCheckResult{
			ID:       uuid.NewString(),
			Kind:     record.CheckRateAnomaly,
			Severity: record.SeverityWarning,
			Scope:    record.PairScope(r.Pair),
			Count:    1,
			Message: fmt.Sprintf("rate %.6f for %s deviates %.2f%% from prior close %.6f",
				r.AvgRate, r.Pair, dev*100, base),
			Timestamp: c.clock.Now(),
		})
	}
	return results
}

// Anomalies returns everything flagged so far for the given pair; empty pair
// returns all. The reconciliation monitor reads this when diagnosing a breach.
func (c *Checker) Anomalies(pair string) []Anomaly {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pair == "" {
		out := make([]Anomaly, len(c.anomalies))
		copy(out, c.anomalies)
		return out
	}
	var out []Anomaly
	for _, a := range c.anomalies {
		if a.Pair == pair {
			out = append(out, a)
		}
	}
	return out
}

// Reset clears accumulated anomalies at the start of a run.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anomalies = nil
}

// ClosingRates derives PriorCloses from a window's rates: the last
// observation per pair in timestamp order.
func ClosingRates(rates []record.Rate) PriorCloses {
	closes := make(PriorCloses)
	latest := make(map[string]time.Time)
	for _, r := range rates {
		if ts, ok := latest[r.Pair]; !ok || r.Timestamp.After(ts) {
			latest[r.Pair] = r.Timestamp
			closes[r.Pair] = r.AvgRate
		}
	}
	return closes
}
