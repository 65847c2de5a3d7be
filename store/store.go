// Package store defines the durable ports of the engine: the canonical
// aggregate store and the append-only audit log.
package store

import (
	"context"
	"time"

	"volume-recon-go/record"
)

// AggregateStore holds published volume aggregates keyed by
// (pair, window, rule version). Put overwrites deterministically; the store
// never accumulates partial values for a key.
type AggregateStore interface {
	PutAggregate(ctx context.Context, agg record.VolumeAggregate) error
	GetAggregate(ctx context.Context, pair string, w record.Window, v record.RuleVersion) (record.VolumeAggregate, bool, error)
}

// AuditLog is the append-only trail of quality-check results and
// reconciliation reports. Entries are never mutated after creation.
type AuditLog interface {
	AppendResults(ctx context.Context, results []record.QualityCheckResult) error
	AppendReport(ctx context.Context, rep record.ReconciliationReport) error
	// ReportsByWindow returns reports whose window start falls in [from, to),
	// filtered by pair when pair is non-empty, oldest first.
	ReportsByWindow(ctx context.Context, pair string, from, to time.Time) ([]record.ReconciliationReport, error)
}

// Store combines both ports; the memory and postgres implementations
// satisfy it.
type Store interface {
	AggregateStore
	AuditLog
}
