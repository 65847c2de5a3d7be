// Package quarantine holds the scope-keyed quarantine state machine and the
// dispatcher that is its single writer.
package quarantine

import (
	"fmt"
	"sync"
	"time"

	"volume-recon-go/record"
)

// State of one scope.
type State string

const (
	StateClear       State = "clear"
	StateQuarantined State = "quarantined"
)

type transition struct {
	From State
	To   State
}

var legalTransitions = map[transition]bool{
	{StateClear, StateQuarantined}: true,
	{StateQuarantined, StateClear}: true,
}

// Entry is the recorded state of one scope.
type Entry struct {
	Scope      record.Scope
	State      State
	Reason     string
	Since      time.Time
	Resolution string
}

// Registry is the process-wide quarantine state, keyed by scope. All writes
// go through Transition; readers take consistent snapshots under the lock.
// Only the Dispatcher calls Transition.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry; every scope starts clear.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Transition atomically moves scope to the target state. Same-state
// transitions are idempotent no-ops returning (entry, false). Illegal
// transitions return an error and leave the registry untouched, so a failed
// or cancelled caller can never leave a scope in a transitional value.
func (r *Registry) Transition(scope record.Scope, to State, reason string, now time.Time) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[scope.Key()]
	if !ok {
		cur = Entry{Scope: scope, State: StateClear}
	}
	if cur.State == to {
		return cur, false, nil
	}
	if !legalTransitions[transition{cur.State, to}] {
		return cur, false, fmt.Errorf("illegal quarantine transition: %s -> %s", cur.State, to)
	}

	next := Entry{Scope: scope, State: to, Since: now}
	switch to {
	case StateQuarantined:
		next.Reason = reason
	case StateClear:
		next.Reason = cur.Reason
		next.Resolution = reason
	}
	r.entries[scope.Key()] = next
	return next, true, nil
}

// Quarantined reports whether scope is covered by any quarantined entry,
// including broader scopes (global, or the pair above a window cell).
func (r *Registry) Quarantined(scope record.Scope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.State == StateQuarantined && e.Scope.Covers(scope) {
			return true
		}
	}
	return false
}

// Status returns the presentation-layer signal for scope: "ok" or "degraded".
func (r *Registry) Status(scope record.Scope) string {
	if r.Quarantined(scope) {
		return "degraded"
	}
	return "ok"
}

// Snapshot returns a consistent copy of all non-clear entries.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.State != StateClear {
			out = append(out, e)
		}
	}
	return out
}
