package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"volume-recon-go/record"
)

// Memory is the in-memory Store used in dev mode and tests.
type Memory struct {
	mu         sync.RWMutex
	aggregates map[string]record.VolumeAggregate
	results    []record.QualityCheckResult
	reports    []record.ReconciliationReport
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{aggregates: make(map[string]record.VolumeAggregate)}
}

func (m *Memory) PutAggregate(_ context.Context, agg record.VolumeAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregates[agg.Key()] = agg
	return nil
}

func (m *Memory) GetAggregate(_ context.Context, pair string, w record.Window, v record.RuleVersion) (record.VolumeAggregate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.aggregates[record.VolumeAggregate{Pair: pair, Window: w, RuleVersion: v}.Key()]
	return agg, ok, nil
}

func (m *Memory) AppendResults(_ context.Context, results []record.QualityCheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
	return nil
}

func (m *Memory) AppendReport(_ context.Context, rep record.ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, rep)
	return nil
}

func (m *Memory) ReportsByWindow(_ context.Context, pair string, from, to time.Time) ([]record.ReconciliationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []record.ReconciliationReport
	for _, rep := range m.reports {
		if pair != "" && rep.Pair != pair {
			continue
		}
		start := rep.Window.Start
		if start.Before(from) || !start.Before(to) {
			continue
		}
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out, nil
}

// Results returns a copy of all audit results; test helper.
func (m *Memory) Results() []record.QualityCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]record.QualityCheckResult, len(m.results))
	copy(out, m.results)
	return out
}
