package quarantine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"volume-recon-go/infrastructure/alert"
	"volume-recon-go/record"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Dispatcher consumes quality-check results and reconciliation reports and
// is the registry's single writer. Critical findings and breach verdicts
// quarantine their scope; warnings notify without a transition; clearing
// requires explicit operator resolution or a clean reprocess.
type Dispatcher struct {
	reg    *Registry
	alerts *alert.Manager
	log    *zap.Logger
	clock  Clock

	mu     sync.Mutex
	events []record.AlertEvent
}

// NewDispatcher creates a Dispatcher over the registry and alert manager.
func NewDispatcher(reg *Registry, alerts *alert.Manager, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{reg: reg, alerts: alerts, log: log, clock: realClock{}}
}

// WithClock overrides the clock; used by tests.
func (d *Dispatcher) WithClock(c Clock) *Dispatcher {
	d.clock = c
	return d
}

// Registry exposes the read side for aggregators and the presentation layer.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// HandleResults routes a run's quality-check results.
func (d *Dispatcher) HandleResults(results []record.QualityCheckResult) {
	for _, res := range results {
		switch res.Severity {
		case record.SeverityCritical:
			d.quarantine(res.Scope, fmt.Sprintf("%s: %s", res.Kind, res.Message))
		case record.SeverityWarning:
			d.notify(record.SeverityWarning, res.Scope, fmt.Sprintf("%s: %s", res.Kind, res.Message))
		default:
			// info results land in the audit log only
		}
	}
}

// HandleReport routes one reconciliation report. Breach quarantines the
// report's (pair, window) scope. An unknown verdict notifies and must never
// clear anything: an unreachable reference does not imply success.
func (d *Dispatcher) HandleReport(rep record.ReconciliationReport) {
	scope := record.WindowScope(rep.Pair, rep.Window)
	switch rep.Verdict {
	case record.VerdictBreach:
		reason := fmt.Sprintf("reconciliation breach: variance %.2f%% (internal %.2f vs external %.2f)",
			rep.Variance*100, rep.Internal, rep.External)
		if rep.Note != "" {
			reason += "; " + rep.Note
		}
		d.quarantine(scope, reason)
	case record.VerdictWarn:
		d.notify(record.SeverityWarning, scope,
			fmt.Sprintf("reconciliation variance %.2f%% above warn threshold", rep.Variance*100))
	case record.VerdictUnknown:
		d.notify(record.SeverityWarning, scope, "reconciliation verdict unknown: external reference unreachable")
	}
}

// Resolve clears a quarantined scope after operator resolution or a corrected
// reprocess that passed all checks.
func (d *Dispatcher) Resolve(scope record.Scope, resolution string) error {
	entry, changed, err := d.reg.Transition(scope, StateClear, resolution, d.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	d.emit(record.SeverityInfo, scope,
		fmt.Sprintf("quarantine cleared for %s: %s (was: %s)", scope, resolution, entry.Reason))
	return nil
}

// Events returns the alert events emitted so far, oldest first.
func (d *Dispatcher) Events() []record.AlertEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]record.AlertEvent, len(d.events))
	copy(out, d.events)
	return out
}

func (d *Dispatcher) quarantine(scope record.Scope, reason string) {
	_, changed, err := d.reg.Transition(scope, StateQuarantined, reason, d.clock.Now())
	if err != nil {
		d.log.Error("quarantine transition failed", zap.String("scope", scope.String()), zap.Error(err))
		return
	}
	if !changed {
		// Already quarantined; the new reason still reaches on-call as a
		// throttled notification.
		d.notify(record.SeverityCritical, scope, reason)
		return
	}
	d.emit(record.SeverityCritical, scope, fmt.Sprintf("quarantined %s: %s", scope, reason))
}

// emit records a transition AlertEvent and sends it unthrottled.
func (d *Dispatcher) emit(sev record.Severity, scope record.Scope, reason string) {
	ev := record.AlertEvent{
		ID:        uuid.NewString(),
		Scope:     scope,
		Severity:  sev,
		Reason:    reason,
		Timestamp: d.clock.Now(),
	}
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	if d.log != nil {
		d.log.Info("quarantine transition", zap.String("scope", scope.String()), zap.String("reason", reason))
	}
	if d.alerts != nil {
		if err := d.alerts.SendTransition(alert.Notification{
			Severity:  sev,
			Scope:     scope,
			Reason:    reason,
			Timestamp: ev.Timestamp,
		}); err != nil && d.log != nil {
			d.log.Error("alert delivery failed", zap.Error(err))
		}
	}
}

func (d *Dispatcher) notify(sev record.Severity, scope record.Scope, reason string) {
	if d.alerts == nil {
		return
	}
	if err := d.alerts.Send(alert.Notification{
		Severity:  sev,
		Scope:     scope,
		Reason:    reason,
		Timestamp: d.clock.Now(),
	}); err != nil && d.log != nil {
		d.log.Error("alert delivery failed", zap.Error(err))
	}
}
