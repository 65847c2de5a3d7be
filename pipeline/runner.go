// Package pipeline orchestrates one reconciliation run end to end:
// validation, deduplication, rate sanity, aggregation, reconciliation
// and quarantine dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"volume-recon-go/aggregate"
	"volume-recon-go/dedup"
	"volume-recon-go/metrics"
	"volume-recon-go/quarantine"
	"volume-recon-go/ratecheck"
	"volume-recon-go/reconcile"
	"volume-recon-go/record"
	"volume-recon-go/source"
	"volume-recon-go/store"
	"volume-recon-go/validate"
)

// Runner wires the pipeline stages together for window runs.
type Runner struct {
	Validator  *validate.Validator
	Guard      *dedup.Guard
	Checker    *ratecheck.Checker
	Aggregator *aggregate.Aggregator
	Monitor    *reconcile.Monitor
	Dispatcher *quarantine.Dispatcher
	Audit      store.AuditLog
	Metrics    *metrics.Pipeline
	Rule       record.RuleVersion

	log *zap.Logger
}

// New creates a Runner. Metrics may be nil for tests.
func New(v *validate.Validator, g *dedup.Guard, c *ratecheck.Checker,
	a *aggregate.Aggregator, m *reconcile.Monitor, d *quarantine.Dispatcher,
	audit store.AuditLog, met *metrics.Pipeline, rule record.RuleVersion, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Validator:  v,
		Guard:      g,
		Checker:    c,
		Aggregator: a,
		Monitor:    m,
		Dispatcher: d,
		Audit:      audit,
		Metrics:    met,
		Rule:       rule,
		log:        log,
	}
}

// RunReport summarizes one window run.
type RunReport struct {
	Window     record.Window
	Batches    int
	Results    []record.QualityCheckResult
	Aggregates []record.VolumeAggregate
	// Hourly is the per-pair, per-UTC-hour trend roll-up over the window's
	// deduplicated trades, for dashboards and the report CLI.
	Hourly    []aggregate.HourlyBucket
	Reports   []record.ReconciliationReport
	Published int
	Blocked   int
	// Closes holds the window's closing rate per pair, the baseline for the
	// next window's rate sanity check.
	Closes ratecheck.PriorCloses
}

// RunWindow drains src and processes everything it yields for the window.
// Quality failures never abort the run; the returned error covers wiring
// failures only (store writes, reference fetches).
func (r *Runner) RunWindow(ctx context.Context, w record.Window, src source.BatchSource, prior ratecheck.PriorCloses) (RunReport, error) {
	started := time.Now()
	if r.Metrics != nil {
		r.Metrics.RunsTotal.Inc()
	}

	rep, err := r.runWindow(ctx, w, src, prior)

	if r.Metrics != nil {
		r.Metrics.RunDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			r.Metrics.RunsFailed.Inc()
		}
		r.Metrics.QuarantinedScopes.Set(float64(len(r.Dispatcher.Registry().Snapshot())))
	}
	return rep, err
}

func (r *Runner) runWindow(ctx context.Context, w record.Window, src source.BatchSource, prior ratecheck.PriorCloses) (RunReport, error) {
	rep := RunReport{Window: w}

	var batches []source.Batch
	for {
		b, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("drain source: %w", err)
		}
		if !b.Empty() {
			batches = append(batches, b)
		}
	}
	rep.Batches = len(batches)

	// Users and rates form the run snapshot before any transaction is judged.
	var rawUsers []record.RawUser
	var rawRates []record.RawRate
	for _, b := range batches {
		rawUsers = append(rawUsers, b.Users...)
		rawRates = append(rawRates, b.Rates...)
	}
	users, userResults := r.Validator.ValidateUsers(rawUsers)
	rateIdx, rateResults := r.Validator.ValidateRates(rawRates, w)
	rep.Results = append(rep.Results, userResults...)
	rep.Results = append(rep.Results, rateResults...)

	// Transaction batches are disjoint, so they validate concurrently.
	outcomes := make([]validate.TransactionOutcome, len(batches))
	var wg sync.WaitGroup
	for i, b := range batches {
		wg.Add(1)
		go func(i int, txns []record.RawTransaction) {
			defer wg.Done()
			outcomes[i] = r.Validator.ValidateTransactions(txns, w, rateIdx, users)
		}(i, b.Transactions)
	}
	wg.Wait()

	excluded := make(map[string]int)
	observedPairs := make(map[string]struct{})
	for _, out := range outcomes {
		rep.Results = append(rep.Results, out.Results...)
		validate.MergeExclusions(excluded, out.ExcludedByUser)
		for _, tx := range out.Passed {
			observedPairs[tx.Pair] = struct{}{}
		}
		r.Guard.Observe(w, out.Passed)
	}
	rep.Results = append(rep.Results, r.Validator.FinalizeUserExclusions(users, excluded)...)
	rep.Results = append(rep.Results, r.Validator.CheckRateReferences(rateIdx, observedPairs)...)

	kept := r.Guard.Kept(w)
	summary, dupResult := r.Guard.Finalize(w)
	if dupResult != nil {
		rep.Results = append(rep.Results, *dupResult)
	}

	rates := flattenRates(rateIdx)
	rep.Closes = ratecheck.ClosingRates(rates)
	anomalies := r.Checker.Check(rates, prior)
	rep.Results = append(rep.Results, anomalies...)

	r.observeStageMetrics(kept, summary, anomalies, rep.Results)

	// Quarantine decisions from this run's quality results apply before any
	// aggregate is published.
	r.Dispatcher.HandleResults(rep.Results)

	rule, err := aggregate.RuleFor(r.Rule)
	if err != nil {
		return rep, err
	}
	altRule, err := aggregate.Alternate(r.Rule)
	if err != nil {
		return rep, err
	}
	rep.Aggregates = r.Aggregator.Compute(kept, rates, w, rule)
	rep.Hourly = aggregate.HourlyRollup(kept, w)
	altAggs := r.Aggregator.Compute(kept, rates, w, altRule)
	altByPair := make(map[string]record.VolumeAggregate, len(altAggs))
	for _, a := range altAggs {
		altByPair[a.Pair] = a
	}

	var firstErr error
	for _, agg := range rep.Aggregates {
		err := r.Aggregator.Publish(ctx, agg)
		switch {
		case err == nil:
			rep.Published++
			if r.Metrics != nil {
				r.Metrics.AggregatesPublished.Inc()
			}
		case errors.Is(err, aggregate.ErrPublishBlockedByQuarantine):
			rep.Blocked++
			if r.Metrics != nil {
				r.Metrics.PublishBlocked.Inc()
			}
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, agg := range rep.Aggregates {
		if agg.Pair == record.PairAll {
			continue // the reference has no rollup series
		}
		var alt *record.VolumeAggregate
		if a, ok := altByPair[agg.Pair]; ok {
			alt = &a
		}
		fetchStart := time.Now()
		report, err := r.Monitor.Run(ctx, agg, alt)
		rep.Reports = append(rep.Reports, report)
		if r.Metrics != nil {
			r.Metrics.ReferenceLatency.Observe(time.Since(fetchStart).Seconds())
			r.Metrics.Verdicts.WithLabelValues(string(report.Verdict)).Inc()
			if report.Verdict != record.VerdictUnknown {
				r.Metrics.Variance.WithLabelValues(agg.Pair).Set(report.Variance)
			}
			if err != nil {
				r.Metrics.ReferenceErrors.Inc()
			}
		}
		if err != nil {
			r.log.Warn("reconciliation incomplete",
				zap.String("pair", agg.Pair), zap.Error(err))
		}
		r.Dispatcher.HandleReport(report)
	}

	if len(rep.Results) > 0 && r.Audit != nil {
		if err := r.Audit.AppendResults(ctx, rep.Results); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("audit results: %w", err)
		}
	}
	if r.Metrics != nil {
		r.Metrics.QuarantinedScopes.Set(float64(len(r.Dispatcher.Registry().Snapshot())))
	}

	r.log.Info("window run complete",
		zap.String("window", w.String()),
		zap.Int("batches", rep.Batches),
		zap.Int("quality_results", len(rep.Results)),
		zap.Int("published", rep.Published),
		zap.Int("blocked", rep.Blocked))
	return rep, firstErr
}

func (r *Runner) observeStageMetrics(kept []record.Transaction, summary dedup.Summary, anomalies, all []record.QualityCheckResult) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.RecordsValidated.WithLabelValues("transaction").Add(float64(len(kept)))
	for _, res := range all {
		r.Metrics.RecordsRejected.WithLabelValues(string(res.Kind)).Add(float64(res.Count))
	}
	r.Metrics.DuplicatesDropped.Add(float64(summary.Duplicates))
	r.Metrics.DuplicationRate.Set(summary.DuplicationRate)
	r.Metrics.RateAnomalies.Add(float64(len(anomalies)))
}

func flattenRates(idx validate.RateIndex) []record.Rate {
	var out []record.Rate
	for _, pair := range idx.Pairs() {
		out = append(out, idx.Rates(pair)...)
	}
	return out
}
