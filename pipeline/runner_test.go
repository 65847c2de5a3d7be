package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-recon-go/aggregate"
	"volume-recon-go/dedup"
	"volume-recon-go/infrastructure/alert"
	"volume-recon-go/pipeline"
	"volume-recon-go/quarantine"
	"volume-recon-go/ratecheck"
	"volume-recon-go/reconcile"
	"volume-recon-go/record"
	"volume-recon-go/source"
	"volume-recon-go/store"
	"volume-recon-go/validate"
)

type stubReference struct {
	volumes map[string]float64
	err     error
}

func (s stubReference) WindowVolume(_ context.Context, pair string, _ record.Window) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.volumes[pair], nil
}

type harness struct {
	runner *pipeline.Runner
	st     *store.Memory
	mock   *alert.MockChannel
	disp   *quarantine.Dispatcher
}

func newHarness(t *testing.T, ref reconcile.ReferenceClient) *harness {
	t.Helper()
	st := store.NewMemory()
	mock := alert.NewMockChannel("mock")
	mgr := alert.NewManager([]alert.Channel{mock}, time.Minute)
	disp := quarantine.NewDispatcher(quarantine.NewRegistry(), mgr, nil)
	agg := aggregate.New(st, disp.Registry(), nil)
	mon := reconcile.NewMonitor(ref, st, reconcile.DefaultThresholds(), time.Second, nil)
	runner := pipeline.New(
		validate.New(nil),
		dedup.NewGuard(0.005, nil),
		ratecheck.New(0.10),
		agg, mon, disp, st, nil,
		record.RuleExecutionPriceV1, nil,
	)
	return &harness{runner: runner, st: st, mock: mock, disp: disp}
}

func day() record.Window {
	return record.Day(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
}

func tradeBatch(w record.Window, n int, amount, price float64) source.Batch {
	b := source.Batch{
		Users: []record.RawUser{{ID: "u1", Region: "EU", CreatedAt: "2025-01-01T00:00:00Z"}},
		Rates: []record.RawRate{{Pair: "USD-EUR", AvgRate: 1.08, Timestamp: w.Start.Add(time.Hour).Format(time.RFC3339)}},
	}
	for i := 0; i < n; i++ {
		b.Transactions = append(b.Transactions, record.RawTransaction{
			ID:        fmt.Sprintf("t%04d", i),
			UserID:    "u1",
			Pair:      "USD-EUR",
			Amount:    amount,
			Price:     price,
			Kind:      "trade",
			Status:    "completed",
			Timestamp: w.Start.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		})
	}
	return b
}

func TestRunWindowPublishesAndReconcilesClean(t *testing.T) {
	w := day()
	// 100 trades x 2000 x 1.005 = 201,000 internal vs 200,000 external: 0.5%, ok.
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 200_000}})

	rep, err := h.runner.RunWindow(context.Background(), w,
		source.NewStatic(tradeBatch(w, 100, 2000, 1.005)), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Published) // pair + rollup
	assert.Zero(t, rep.Blocked)
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, record.VerdictOK, rep.Reports[0].Verdict)
	assert.Equal(t, "ok", h.disp.Registry().Status(record.WindowScope("USD-EUR", w)))

	got, ok, err := h.st.GetAggregate(context.Background(), "USD-EUR", w, record.RuleExecutionPriceV1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 201_000, got.Volume, 1e-6)
}

func TestRunWindowBreachQuarantinesAndBlocksRepublish(t *testing.T) {
	w := day()
	// internal 220,000 vs external 200,000: 10% variance, breach.
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 200_000}})
	batch := tradeBatch(w, 100, 2200, 1.0)

	rep, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, record.VerdictBreach, rep.Reports[0].Verdict)
	assert.InDelta(t, 0.10, rep.Reports[0].Variance, 1e-9)
	assert.Equal(t, "degraded", h.disp.Registry().Status(record.WindowScope("USD-EUR", w)))

	// The first publish preceded the breach; a rerun of the same window is
	// blocked until the quarantine is resolved.
	rep2, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep2.Blocked)   // the quarantined pair cell
	assert.Equal(t, 1, rep2.Published) // the rollup is a different cell

	require.NoError(t, h.disp.Resolve(record.WindowScope("USD-EUR", w), "backfill applied"))
	rep3, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)
	assert.Zero(t, rep3.Blocked)
}

func TestRunWindowDuplicationOverThresholdQuarantinesWindow(t *testing.T) {
	w := day()
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 200_000}})

	batch := tradeBatch(w, 1000, 200, 1.0)
	// 6 duplicate keys out of 1006 observed: 0.596%, over the 0.5% threshold.
	for i := 0; i < 6; i++ {
		batch.Transactions = append(batch.Transactions, batch.Transactions[i])
	}

	rep, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)

	var recommended bool
	for _, res := range rep.Results {
		if res.Kind == record.CheckQuarantineRecommended {
			recommended = true
			assert.Equal(t, record.SeverityCritical, res.Severity)
		}
	}
	assert.True(t, recommended, "expected a quarantine recommendation")

	// The window quarantine lands before publishing, so every cell is blocked.
	assert.Zero(t, rep.Published)
	assert.Equal(t, 2, rep.Blocked)
	assert.True(t, h.disp.Registry().Quarantined(record.WindowScope("USD-EUR", w)))
}

func TestRunWindowQuietDuplicatesStillPublish(t *testing.T) {
	w := day()
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 200_000}})

	batch := tradeBatch(w, 1000, 200, 1.0)
	for i := 0; i < 4; i++ { // 0.398%, under threshold
		batch.Transactions = append(batch.Transactions, batch.Transactions[i])
	}

	rep, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Published)
	assert.Zero(t, rep.Blocked)

	got, ok, err := h.st.GetAggregate(context.Background(), "USD-EUR", w, record.RuleExecutionPriceV1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 200_000, got.Volume, 1e-6) // duplicates dropped, not double counted
}

func TestRunWindowReferenceDownYieldsUnknown(t *testing.T) {
	w := day()
	h := newHarness(t, stubReference{err: fmt.Errorf("connection refused")})

	rep, err := h.runner.RunWindow(context.Background(), w,
		source.NewStatic(tradeBatch(w, 10, 100, 1.0)), nil)
	require.NoError(t, err) // reference failure is a verdict, not a run failure
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, record.VerdictUnknown, rep.Reports[0].Verdict)
	assert.False(t, h.disp.Registry().Quarantined(record.WindowScope("USD-EUR", w)))
}

func TestRunWindowConcurrentBatches(t *testing.T) {
	w := day()
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 40_000}})

	var batches []source.Batch
	for b := 0; b < 8; b++ {
		batch := source.Batch{}
		if b == 0 {
			batch.Users = []record.RawUser{{ID: "u1", Region: "EU", CreatedAt: "2025-01-01T00:00:00Z"}}
			batch.Rates = []record.RawRate{{Pair: "USD-EUR", AvgRate: 1.08, Timestamp: w.Start.Add(time.Hour).Format(time.RFC3339)}}
		}
		for i := 0; i < 50; i++ {
			batch.Transactions = append(batch.Transactions, record.RawTransaction{
				ID:        fmt.Sprintf("b%d-t%03d", b, i),
				UserID:    "u1",
				Pair:      "USD-EUR",
				Amount:    100,
				Price:     1.0,
				Kind:      "trade",
				Status:    "completed",
				Timestamp: w.Start.Add(time.Duration(b*50+i) * time.Second).Format(time.RFC3339),
			})
		}
		batches = append(batches, batch)
	}

	rep, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batches...), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, rep.Batches)

	got, ok, err := h.st.GetAggregate(context.Background(), "USD-EUR", w, record.RuleExecutionPriceV1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 40_000, got.Volume, 1e-6)
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, record.VerdictOK, rep.Reports[0].Verdict)
}

func TestRunWindowRecordsLateArrivalExclusion(t *testing.T) {
	w := day()
	// One trade belongs to the next day: it must be excluded from the
	// aggregate AND leave a quality result behind, never vanish silently.
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 2_000}})
	batch := tradeBatch(w, 1, 2000, 1.0)
	batch.Transactions = append(batch.Transactions, record.RawTransaction{
		ID: "late", UserID: "u1", Pair: "USD-EUR", Amount: 2000, Price: 1.0,
		Kind: "trade", Status: "completed",
		Timestamp: w.End.Add(time.Hour).Format(time.RFC3339),
	})

	rep, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)

	got, ok, err := h.st.GetAggregate(context.Background(), "USD-EUR", w, record.RuleExecutionPriceV1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2_000, got.Volume, 1e-6)

	var late []record.QualityCheckResult
	for _, res := range rep.Results {
		if res.Kind == record.CheckOutOfWindow {
			late = append(late, res)
		}
	}
	require.Len(t, late, 1)
	assert.Equal(t, []string{"late"}, late[0].RecordIDs)
	assert.NotEmpty(t, h.st.Results())
}

func TestRunWindowReportsHourlyRollup(t *testing.T) {
	w := day()
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 200}})
	batch := tradeBatch(w, 2, 100, 1.0) // both trades land in hour 0

	rep, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)

	require.Len(t, rep.Hourly, 1)
	assert.Equal(t, "USD-EUR", rep.Hourly[0].Pair)
	assert.Equal(t, record.Hour(w.Start), rep.Hourly[0].Window)
	assert.InDelta(t, 200, rep.Hourly[0].Volume, 1e-6)
	assert.Equal(t, 2, rep.Hourly[0].Trades)
}

func TestRunWindowAuditsResults(t *testing.T) {
	w := day()
	h := newHarness(t, stubReference{volumes: map[string]float64{"USD-EUR": 1_000}})

	batch := tradeBatch(w, 10, 100, 1.0)
	batch.Transactions = append(batch.Transactions, record.RawTransaction{
		ID: "bad", UserID: "u1", Pair: "USD-EUR", Amount: -5,
		Kind: "trade", Status: "completed",
		Timestamp: w.Start.Format(time.RFC3339),
	})

	_, err := h.runner.RunWindow(context.Background(), w, source.NewStatic(batch), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, h.st.Results())

	reports, err := h.st.ReportsByWindow(context.Background(), "USD-EUR", w.Start, w.End)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}
