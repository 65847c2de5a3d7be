package quarantine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-recon-go/infrastructure/alert"
	"volume-recon-go/infrastructure/logger"
	"volume-recon-go/quarantine"
	"volume-recon-go/record"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newDispatcher(t *testing.T) (*quarantine.Dispatcher, *alert.MockChannel) {
	t.Helper()
	mock := alert.NewMockChannel("mock")
	mgr := alert.NewManager([]alert.Channel{mock}, time.Hour)
	d := quarantine.NewDispatcher(quarantine.NewRegistry(), mgr, logger.Nop().Logger).
		WithClock(fixedClock{t: time.Date(2024, 1, 2, 0, 15, 0, 0, time.UTC)})
	return d, mock
}

func TestCriticalResultQuarantinesScope(t *testing.T) {
	d, mock := newDispatcher(t)
	scope := record.GlobalScope

	d.HandleResults([]record.QualityCheckResult{{
		Kind:     record.CheckDuplicateUserIdentity,
		Severity: record.SeverityCritical,
		Scope:    scope,
		Message:  "user u1 maps to multiple identities",
	}})

	assert.True(t, d.Registry().Quarantined(scope))
	events := d.Events()
	require.Len(t, events, 1)
	assert.Equal(t, record.SeverityCritical, events[0].Severity)
	assert.Contains(t, events[0].Reason, "DuplicateUserIdentity")
	require.Equal(t, 1, mock.Count())
}

func TestWarningNotifiesWithoutTransition(t *testing.T) {
	d, mock := newDispatcher(t)
	scope := record.PairScope("BTC-USD")

	d.HandleResults([]record.QualityCheckResult{{
		Kind:     record.CheckRateAnomaly,
		Severity: record.SeverityWarning,
		Scope:    scope,
		Message:  "rate deviates 12.5% from prior close",
	}})

	assert.False(t, d.Registry().Quarantined(scope))
	assert.Empty(t, d.Events(), "warnings must not produce transition events")
	assert.Equal(t, 1, mock.Count())
}

func TestInfoResultIsSilent(t *testing.T) {
	d, mock := newDispatcher(t)

	d.HandleResults([]record.QualityCheckResult{{
		Kind:     record.CheckDuplicateTransaction,
		Severity: record.SeverityInfo,
		Message:  "dropped 4 duplicate keys",
	}})

	assert.Empty(t, d.Events())
	assert.Equal(t, 0, mock.Count())
}

func TestBreachReportQuarantinesCell(t *testing.T) {
	d, _ := newDispatcher(t)
	w := record.Span(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	)

	d.HandleReport(record.ReconciliationReport{
		Pair: "BTC-USD", Window: w,
		Internal: 220e6, External: 200e6,
		Variance: 0.10, Verdict: record.VerdictBreach,
	})

	assert.True(t, d.Registry().Quarantined(record.WindowScope("BTC-USD", w)))
	events := d.Events()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Reason, "variance 10.00%")
}

func TestUnknownVerdictNeverClears(t *testing.T) {
	d, mock := newDispatcher(t)
	w := record.Day(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	scope := record.WindowScope("BTC-USD", w)

	d.HandleReport(record.ReconciliationReport{
		Pair: "BTC-USD", Window: w,
		Variance: 0.10, Verdict: record.VerdictBreach,
	})
	require.True(t, d.Registry().Quarantined(scope))
	mock.Clear()

	d.HandleReport(record.ReconciliationReport{
		Pair: "BTC-USD", Window: w,
		Verdict: record.VerdictUnknown,
	})

	assert.True(t, d.Registry().Quarantined(scope), "unknown verdict must not clear quarantine")
	require.Equal(t, 1, mock.Count())
	assert.Contains(t, mock.Sent()[0].Reason, "unknown")
}

func TestResolveClearsAndEmits(t *testing.T) {
	d, _ := newDispatcher(t)
	scope := record.PairScope("BTC-USD")

	d.HandleResults([]record.QualityCheckResult{{
		Kind: record.CheckQuarantineRecommended, Severity: record.SeverityCritical,
		Scope: scope, Message: "duplication over threshold",
	}})
	require.True(t, d.Registry().Quarantined(scope))

	err := d.Resolve(scope, "corrected reprocessing passed all checks")
	require.NoError(t, err)
	assert.False(t, d.Registry().Quarantined(scope))

	events := d.Events()
	require.Len(t, events, 2)
	cleared := events[1]
	assert.Equal(t, record.SeverityInfo, cleared.Severity)
	assert.True(t, strings.Contains(cleared.Reason, "cleared"))
}

func TestRepeatedBreachKeepsSingleQuarantine(t *testing.T) {
	d, _ := newDispatcher(t)
	scope := record.PairScope("BTC-USD")

	for i := 0; i < 3; i++ {
		d.HandleResults([]record.QualityCheckResult{{
			Kind: record.CheckQuarantineRecommended, Severity: record.SeverityCritical,
			Scope: scope, Message: "still broken",
		}})
	}

	assert.True(t, d.Registry().Quarantined(scope))
	assert.Len(t, d.Events(), 1, "re-quarantining an already-quarantined scope is not a transition")
}
