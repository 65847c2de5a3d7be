// Package reconcile compares the canonical volume aggregate against the
// external source of truth and issues verdicts.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"volume-recon-go/record"
	"volume-recon-go/store"
)

// Thresholds are the verdict boundaries as fractions. Strictly greater-than
// semantics: variance equal to a boundary takes the milder verdict.
type Thresholds struct {
	Warn   float64
	Breach float64
}

// DefaultThresholds: warn above 1%, breach above 5%.
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 0.01, Breach: 0.05}
}

// Compare is the pure comparison at the heart of the monitor: relative
// variance of internal against external, and the verdict it earns. Kept free
// of I/O so it is deterministic under test.
func Compare(internal, external float64, th Thresholds) (float64, record.Verdict) {
	if external == 0 {
		if internal == 0 {
			return 0, record.VerdictOK
		}
		return math.Inf(1), record.VerdictBreach
	}
	variance := math.Abs(internal-external) / math.Abs(external)
	switch {
	case variance > th.Breach:
		return variance, record.VerdictBreach
	case variance > th.Warn:
		return variance, record.VerdictWarn
	}
	return variance, record.VerdictOK
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Monitor runs reconciliations and appends reports to the audit log.
type Monitor struct {
	ref        ReferenceClient
	audit      store.AuditLog
	thresholds Thresholds
	timeout    time.Duration
	log        *zap.Logger
	clock      Clock
}

// NewMonitor creates a Monitor. timeout bounds each external fetch.
func NewMonitor(ref ReferenceClient, audit store.AuditLog, th Thresholds, timeout time.Duration, log *zap.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Monitor{
		ref:        ref,
		audit:      audit,
		thresholds: th,
		timeout:    timeout,
		log:        log,
		clock:      realClock{},
	}
}

// WithClock overrides the clock; used by tests.
func (m *Monitor) WithClock(c Clock) *Monitor {
	m.clock = c
	return m
}

// SetThresholds updates verdict boundaries for subsequent runs.
func (m *Monitor) SetThresholds(th Thresholds) {
	m.thresholds = th
}

// Run reconciles one aggregate against the external reference. alt, when
// non-nil, is the same window computed under the other rule variant; on a
// breach the report states whether the alternate rule would have reduced the
// variance, which localizes rule-mismatch root causes mechanically.
//
// If the reference cannot be fetched inside the timeout the report's verdict
// is unknown: an unreachable source of truth never implies agreement, and
// the caller must not clear any quarantine from it. The report is appended
// to the audit log in every case.
func (m *Monitor) Run(ctx context.Context, agg record.VolumeAggregate, alt *record.VolumeAggregate) (record.ReconciliationReport, error) {
	rep := record.ReconciliationReport{
		ID:          uuid.NewString(),
		Pair:        agg.Pair,
		Window:      agg.Window,
		Internal:    agg.Volume,
		RuleVersion: agg.RuleVersion,
		CreatedAt:   m.clock.Now(),
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	external, err := m.ref.WindowVolume(fetchCtx, agg.Pair, agg.Window)
	if err != nil {
		rep.Verdict = record.VerdictUnknown
		rep.Note = fmt.Sprintf("reference fetch failed: %v", err)
		if m.log != nil {
			m.log.Warn("reconciliation verdict unknown",
				zap.String("pair", agg.Pair),
				zap.String("window", agg.Window.String()),
				zap.Error(err))
		}
		m.append(ctx, rep)
		return rep, fmt.Errorf("reconcile %s %s: %w", agg.Pair, agg.Window, err)
	}

	rep.External = external
	rep.Variance, rep.Verdict = Compare(agg.Volume, external, m.thresholds)

	if rep.Verdict == record.VerdictBreach && alt != nil && alt.RuleVersion != agg.RuleVersion {
		altVariance, _ := Compare(alt.Volume, external, m.thresholds)
		rep.AltRuleVersion = alt.RuleVersion
		rep.AltVariance = altVariance
		rep.AltReduces = altVariance < rep.Variance
		if rep.AltReduces {
			rep.Note = fmt.Sprintf("rule variant %s would reduce variance to %.2f%%",
				alt.RuleVersion, altVariance*100)
		} else {
			rep.Note = fmt.Sprintf("rule variant %s would not reduce variance (%.2f%%); cause is likely upstream data",
				alt.RuleVersion, altVariance*100)
		}
	}

	if m.log != nil {
		m.log.Info("reconciliation complete",
			zap.String("pair", agg.Pair),
			zap.String("window", agg.Window.String()),
			zap.Float64("internal", rep.Internal),
			zap.Float64("external", rep.External),
			zap.Float64("variance", rep.Variance),
			zap.String("verdict", string(rep.Verdict)))
	}
	m.append(ctx, rep)
	return rep, nil
}

func (m *Monitor) append(ctx context.Context, rep record.ReconciliationReport) {
	if m.audit == nil {
		return
	}
	if err := m.audit.AppendReport(ctx, rep); err != nil && m.log != nil {
		m.log.Error("append report failed", zap.Error(err))
	}
}
