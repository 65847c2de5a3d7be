// Package validate implements the schema and integrity checks that gate
// records before they reach the canonical store.
package validate

import (
	"fmt"
	"sort"
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

// Validator converts wire-shape records into canonical ones, rejecting
// everything that fails a structural or referential check. Rejection never
// halts the pipeline; each failure becomes a QualityCheckResult.
type Validator struct {
	log   *zap.Logger
	clock Clock
}

// New creates a Validator.
func New(log *zap.Logger) *Validator {
	return &Validator{log: log, clock: realClock{}}
}

// WithClock overrides the clock; used by tests.
func (v *Validator) WithClock(c Clock) *Validator {
	v.clock = c
	return v
}

// UserSnapshot is the authoritative user set for one aggregation run, with
// identifiers that map to conflicting identities marked suspect.
type UserSnapshot struct {
	users   map[string]record.User
	suspect map[string]struct{}
}

// Suspect reports whether id carries conflicting identities this run.
func (s UserSnapshot) Suspect(id string) bool {
	_, ok := s.suspect[id]
	return ok
}

// Known reports whether id exists in the snapshot at all.
func (s UserSnapshot) Known(id string) bool {
	_, ok := s.users[id]
	return ok
}

// ValidateUsers builds the run's user snapshot. An identifier mapping to two
// or more distinct (region, created_at) tuples is marked suspect; its joined
// transactions are excluded later, fail-closed, because duplicated user rows
// multiply joined transaction rows and silently inflate volume.
func (v *Validator) ValidateUsers(raw []record.RawUser) (UserSnapshot, []record.QualityCheckResult) {
	snap := UserSnapshot{
		users:   make(map[string]record.User, len(raw)),
		suspect: make(map[string]struct{}),
	}
	var results []record.QualityCheckResult

	identities := make(map[string]map[string]struct{})
	for _, ru := range raw {
		if ru.ID == "" {
			results = append(results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				record.GlobalScope, nil, 1, "user record missing identifier"))
			continue
		}
		ts, err := parseUTC(ru.CreatedAt)
		if err != nil {
			results = append(results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				record.GlobalScope, []string{ru.ID}, 1,
				fmt.Sprintf("user %s created_at unparseable: %v", ru.ID, err)))
			continue
		}
		tuple := ru.Region + "|" + ts.Format(time.RFC3339Nano)
		if identities[ru.ID] == nil {
			identities[ru.ID] = make(map[string]struct{})
		}
		identities[ru.ID][tuple] = struct{}{}
		if _, exists := snap.users[ru.ID]; !exists {
			snap.users[ru.ID] = record.User{ID: ru.ID, Region: ru.Region, CreatedAt: ts}
		}
	}

	for id, tuples := range identities {
		if len(tuples) >= 2 {
			snap.suspect[id] = struct{}{}
		}
	}
	return snap, results
}

// RateIndex holds the window's validated rates grouped by pair.
type RateIndex struct {
	byPair map[string][]record.Rate
}

// Pairs returns the pairs present in the index.
func (ri RateIndex) Pairs() []string {
	out := make([]string, 0, len(ri.byPair))
	for p := range ri.byPair {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Rates returns the rates for a pair, in timestamp order.
func (ri RateIndex) Rates(pair string) []record.Rate {
	return ri.byPair[pair]
}

// Has reports whether the index holds any rate for pair.
func (ri RateIndex) Has(pair string) bool {
	return len(ri.byPair[pair]) > 0
}

// ValidateRates checks rate records for the window: positive rates, resolvable
// timestamps, membership in the window. Referential integrity against the
// transaction set is checked afterwards with CheckRateReferences, once the
// window's observed pairs are known.
func (v *Validator) ValidateRates(raw []record.RawRate, w record.Window) (RateIndex, []record.QualityCheckResult) {
	idx := RateIndex{byPair: make(map[string][]record.Rate)}
	var results []record.QualityCheckResult

	for _, rr := range raw {
		scope := record.PairScope(rr.Pair)
		if rr.Pair == "" {
			results = append(results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				record.GlobalScope, nil, 1, "rate record missing pair"))
			continue
		}
		if rr.AvgRate <= 0 || rr.PointRate < 0 {
			results = append(results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				scope, nil, 1, fmt.Sprintf("rate for %s must be positive", rr.Pair)))
			continue
		}
		ts, err := parseUTC(rr.Timestamp)
		if err != nil {
			kind := record.CheckSchemaViolation
			if err == ErrAmbiguousTimezone {
				kind = record.CheckAmbiguousTimezone
			}
			results = append(results, v.result(kind, record.SeverityWarning, scope, nil, 1,
				fmt.Sprintf("rate for %s: %v", rr.Pair, err)))
			continue
		}
		if !w.Contains(ts) {
			results = append(results, v.result(record.CheckOutOfWindow, record.SeverityInfo,
				scope, nil, 1, fmt.Sprintf("rate for %s at %s outside window %s", rr.Pair, ts.Format(time.RFC3339), w)))
			continue
		}
		idx.byPair[rr.Pair] = append(idx.byPair[rr.Pair], record.Rate{
			Pair:      rr.Pair,
			Timestamp: ts,
			AvgRate:   rr.AvgRate,
			PointRate: rr.PointRate,
		})
	}
	for _, rates := range idx.byPair {
		sort.Slice(rates, func(i, j int) bool { return rates[i].Timestamp.Before(rates[j].Timestamp) })
	}
	return idx, results
}

// CheckRateReferences flags rate pairs the window's transactions never
// mention. Orphan rates are excluded from the index so downstream averages
// only cover traded pairs.
func (v *Validator) CheckRateReferences(idx RateIndex, observedPairs map[string]struct{}) []record.QualityCheckResult {
	var results []record.QualityCheckResult
	for _, pair := range idx.Pairs() {
		if _, ok := observedPairs[pair]; !ok {
			results = append(results, v.result(record.CheckSchemaViolation, record.SeverityInfo,
				record.PairScope(pair), nil, len(idx.byPair[pair]),
				fmt.Sprintf("rates for %s have no transactions in window", pair)))
			delete(idx.byPair, pair)
		}
	}
	return results
}

// TransactionOutcome is the result of validating one transaction batch.
type TransactionOutcome struct {
	Passed  []record.Transaction
	Results []record.QualityCheckResult
	// ExcludedByUser counts transactions dropped per suspect identifier.
	ExcludedByUser map[string]int
}

// ValidateTransactions validates one batch against the window, the rate index
// and the user snapshot. Transactions joined to a suspect user identifier are
// excluded; the caller emits one DuplicateUserIdentity result per identifier
// per run via FinalizeUserExclusions after all batches are processed.
func (v *Validator) ValidateTransactions(raw []record.RawTransaction, w record.Window, rates RateIndex, users UserSnapshot) TransactionOutcome {
	out := TransactionOutcome{ExcludedByUser: make(map[string]int)}

	for _, rt := range raw {
		scope := record.WindowScope(rt.Pair, w)
		if rt.ID == "" || rt.UserID == "" || rt.Pair == "" {
			out.Results = append(out.Results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				scope, idList(rt.ID), 1, "transaction missing required field"))
			continue
		}
		if rt.Amount < 0 {
			out.Results = append(out.Results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				scope, []string{rt.ID}, 1, fmt.Sprintf("transaction %s amount is negative", rt.ID)))
			continue
		}
		status := record.TransactionStatus(rt.Status)
		kind := record.TransactionKind(rt.Kind)
		if !status.Valid() || !kind.Valid() {
			out.Results = append(out.Results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				scope, []string{rt.ID}, 1,
				fmt.Sprintf("transaction %s has unknown status %q or kind %q", rt.ID, rt.Status, rt.Kind)))
			continue
		}
		if kind == record.KindTrade && rt.Price <= 0 {
			out.Results = append(out.Results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
				scope, []string{rt.ID}, 1, fmt.Sprintf("trade %s has non-positive execution price", rt.ID)))
			continue
		}
		ts, err := parseUTC(rt.Timestamp)
		if err != nil {
			if err == ErrAmbiguousTimezone {
				out.Results = append(out.Results, v.result(record.CheckAmbiguousTimezone, record.SeverityWarning,
					scope, []string{rt.ID}, 1,
					fmt.Sprintf("transaction %s timestamp lacks timezone", rt.ID)))
			} else {
				out.Results = append(out.Results, v.result(record.CheckSchemaViolation, record.SeverityWarning,
					scope, []string{rt.ID}, 1, fmt.Sprintf("transaction %s timestamp unparseable: %v", rt.ID, err)))
			}
			continue
		}
		if !w.Contains(ts) {
			out.Results = append(out.Results, v.result(record.CheckOutOfWindow, record.SeverityWarning,
				scope, []string{rt.ID}, 1,
				fmt.Sprintf("transaction %s at %s outside window %s", rt.ID, ts.Format(time.RFC3339), w)))
			continue
		}
		if !rates.Has(rt.Pair) {
			out.Results = append(out.Results, v.result(record.CheckMissingRateReference, record.SeverityWarning,
				scope, []string{rt.ID}, 1,
				fmt.Sprintf("transaction %s pair %s has no rate in window", rt.ID, rt.Pair)))
			continue
		}
		if users.Suspect(rt.UserID) {
			out.ExcludedByUser[rt.UserID]++
			continue
		}
		out.Passed = append(out.Passed, record.Transaction{
			ID:        rt.ID,
			UserID:    rt.UserID,
			Pair:      rt.Pair,
			Amount:    rt.Amount,
			Price:     rt.Price,
			Status:    status,
			Kind:      kind,
			Timestamp: ts,
		})
	}
	return out
}

// FinalizeUserExclusions emits exactly one critical DuplicateUserIdentity
// result per suspect identifier for the run, folding in the per-batch
// exclusion counts. A suspect identifier is reported even when none of its
// transactions appeared this window; the conflict itself is the finding.
func (v *Validator) FinalizeUserExclusions(users UserSnapshot, excluded map[string]int) []record.QualityCheckResult {
	ids := make([]string, 0, len(users.suspect))
	for id := range users.suspect {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []record.QualityCheckResult
	for _, id := range ids {
		msg := fmt.Sprintf("user %s maps to multiple identities; %d joined transactions excluded pending resolution", id, excluded[id])
		if excluded[id] == 0 {
			msg = fmt.Sprintf("user %s maps to multiple identities; no joined transactions this window", id)
		}
		results = append(results, v.result(record.CheckDuplicateUserIdentity, record.SeverityCritical,
			record.GlobalScope, []string{id}, excluded[id], msg))
	}
	return results
}

// MergeExclusions accumulates batch exclusion counts into total.
func MergeExclusions(total, batch map[string]int) {
	for id, n := range batch {
		total[id] += n
	}
}

func (v *Validator) result(kind record.CheckKind, sev record.Severity, scope record.Scope, ids []string, count int, msg string) record.QualityCheckResult {
	if v.log != nil && sev != record.SeverityInfo {
		v.log.Warn("quality check failed",
			zap.String("kind", string(kind)),
			zap.String("severity", string(sev)),
			zap.String("scope", scope.String()),
			zap.String("detail", msg))
	}
	return record.QualityCheckResult{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  sev,
		Scope:     scope,
		RecordIDs: ids,
		Count:     count,
		Message:   msg,
		Timestamp: v.clock.Now(),
	}
}

func idList(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

// parseUTC resolves a wire timestamp to UTC. Timestamps without offset
// information are ambiguous local times and are rejected, not guessed at.
func parseUTC(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrSchemaViolation)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if _, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return time.Time{}, ErrAmbiguousTimezone
	}
	if _, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return time.Time{}, ErrAmbiguousTimezone
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrSchemaViolation, s)
}
