// Package aggregate computes the canonical, versioned volume aggregates
// from validated, deduplicated transactions.
package aggregate

import (
	"fmt"

	"volume-recon-go/record"
)

// Rule is one versioned business-rule variant for a transaction's volume
// contribution. The variant is a tagged value selected at run start and
// stamped immutably onto every aggregate it produces; nothing dispatches on
// mutable configuration at read time.
type Rule interface {
	Version() record.RuleVersion
	// Contribution returns the volume contributed by one trade. avgRate is
	// the window's average rate for the trade's pair.
	Contribution(tx record.Transaction, avgRate float64) float64
}

type executionPriceRule struct{}

func (executionPriceRule) Version() record.RuleVersion { return record.RuleExecutionPriceV1 }

// Contribution uses the point-in-time execution price of the trade itself.
func (executionPriceRule) Contribution(tx record.Transaction, _ float64) float64 {
	return tx.Amount * tx.Price
}

type averageRateRule struct{}

func (averageRateRule) Version() record.RuleVersion { return record.RuleAverageRateV1 }

// Contribution values the trade at the window's average rate regardless of
// its execution price. Diverges from the execution-price rule under
// intra-window volatility.
func (averageRateRule) Contribution(tx record.Transaction, avgRate float64) float64 {
	return tx.Amount * avgRate
}

// RuleFor maps a configured version to its rule variant.
func RuleFor(v record.RuleVersion) (Rule, error) {
	switch v {
	case record.RuleExecutionPriceV1:
		return executionPriceRule{}, nil
	case record.RuleAverageRateV1:
		return averageRateRule{}, nil
	}
	return nil, fmt.Errorf("unknown rule version %q", v)
}

// Alternate returns the other rule variant, used for breach diagnosis.
func Alternate(v record.RuleVersion) (Rule, error) {
	switch v {
	case record.RuleExecutionPriceV1:
		return averageRateRule{}, nil
	case record.RuleAverageRateV1:
		return executionPriceRule{}, nil
	}
	return nil, fmt.Errorf("unknown rule version %q", v)
}
