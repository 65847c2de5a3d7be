// Package record defines the canonical data model shared across the
// validation, aggregation and reconciliation stages.
package record

import "time"

// TransactionStatus is the closed set of transaction lifecycle states.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusPending   TransactionStatus = "pending"
	StatusCancelled TransactionStatus = "cancelled"
	StatusFailed    TransactionStatus = "failed"
)

// Valid reports whether s is a member of the status enumeration.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusPending, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// TransactionKind is the closed set of transaction kinds. Only KindTrade
// contributes to the canonical volume aggregate.
type TransactionKind string

const (
	KindTrade      TransactionKind = "trade"
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
)

// Valid reports whether k is a member of the kind enumeration.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindTrade, KindDeposit, KindWithdrawal, KindTransfer:
		return true
	}
	return false
}

// Transaction is a validated transaction with its timestamp normalized to UTC.
type Transaction struct {
	ID        string
	UserID    string
	Pair      string
	Amount    float64
	Price     float64
	Status    TransactionStatus
	Kind      TransactionKind
	Timestamp time.Time
}

// User is one row of the authoritative user snapshot.
type User struct {
	ID        string
	Region    string
	CreatedAt time.Time
}

// Rate is a validated exchange-rate observation for one asset pair.
// PointRate is the point-in-time rate when the source provides one;
// zero means only the interval average is known.
type Rate struct {
	Pair      string
	Timestamp time.Time
	AvgRate   float64
	PointRate float64
}

// RuleVersion identifies immutably which business-rule variant produced a
// volume aggregate. Historical aggregates stay reproducible because the
// version travels with the value.
type RuleVersion string

const (
	RuleExecutionPriceV1 RuleVersion = "execution-price-v1"
	RuleAverageRateV1    RuleVersion = "average-rate-v1"
)

// Valid reports whether v names a known rule variant.
func (v RuleVersion) Valid() bool {
	return v == RuleExecutionPriceV1 || v == RuleAverageRateV1
}

// PairAll is the aggregate scope covering every asset pair.
const PairAll = "all"

// VolumeAggregate is the canonical pre-aggregated volume for one
// (pair, window, rule version) key. Produced exactly once per key;
// recomputation overwrites deterministically.
type VolumeAggregate struct {
	Pair        string
	Window      Window
	Volume      float64
	RuleVersion RuleVersion
	ComputedAt  time.Time
}

// Key returns the storage key of the aggregate.
func (a VolumeAggregate) Key() string {
	return a.Pair + "|" + a.Window.Key() + "|" + string(a.RuleVersion)
}
