package record

import "time"

// Severity grades a quality finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CheckKind names one class of data-quality check.
type CheckKind string

const (
	CheckSchemaViolation       CheckKind = "SchemaViolation"
	CheckOutOfWindow           CheckKind = "OutOfWindowRecord"
	CheckAmbiguousTimezone     CheckKind = "AmbiguousTimezone"
	CheckMissingRateReference  CheckKind = "MissingRateReference"
	CheckDuplicateUserIdentity CheckKind = "DuplicateUserIdentity"
	CheckDuplicateTransaction  CheckKind = "DuplicateTransactionKey"
	CheckRateAnomaly           CheckKind = "RateAnomaly"
	CheckQuarantineRecommended CheckKind = "QuarantineRecommended"
)

// QualityCheckResult is one append-only audit entry produced by a validation
// stage. Never mutated after creation.
type QualityCheckResult struct {
	ID        string
	Kind      CheckKind
	Severity  Severity
	Scope     Scope
	RecordIDs []string
	Count     int
	Message   string
	Timestamp time.Time
}

// Verdict is the outcome of one reconciliation comparison.
type Verdict string

const (
	VerdictOK      Verdict = "ok"
	VerdictWarn    Verdict = "warn"
	VerdictBreach  Verdict = "breach"
	VerdictUnknown Verdict = "unknown"
)

// ReconciliationReport records one internal-vs-external comparison for a
// window. Reports are append-only and queryable by window and pair.
type ReconciliationReport struct {
	ID          string
	Pair        string
	Window      Window
	Internal    float64
	External    float64
	Variance    float64
	Verdict     Verdict
	RuleVersion RuleVersion

	// Alternate-rule diagnosis, populated on breach when the run computed
	// the other rule variant as well.
	AltRuleVersion RuleVersion
	AltVariance    float64
	AltReduces     bool

	Note      string
	CreatedAt time.Time
}

// AlertEvent is emitted on every quarantine transition and for every
// warning-grade finding; the reason string is meant for an on-call channel.
type AlertEvent struct {
	ID        string
	Scope     Scope
	Severity  Severity
	Reason    string
	Timestamp time.Time
}
