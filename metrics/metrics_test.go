package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	p := New(DefaultConfig())

	p.RecordsValidated.WithLabelValues("transaction").Add(3)
	p.RecordsRejected.WithLabelValues("SchemaViolation").Inc()
	p.DuplicatesDropped.Inc()
	p.AggregatesPublished.Add(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(p.RecordsValidated.WithLabelValues("transaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.RecordsRejected.WithLabelValues("SchemaViolation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.AggregatesPublished))
}

func TestGauges(t *testing.T) {
	p := New(DefaultConfig())

	p.DuplicationRate.Set(0.006)
	p.Variance.WithLabelValues("USD-EUR").Set(0.1)
	p.QuarantinedScopes.Set(1)

	assert.InDelta(t, 0.006, testutil.ToFloat64(p.DuplicationRate), 1e-12)
	assert.Equal(t, 0.1, testutil.ToFloat64(p.Variance.WithLabelValues("USD-EUR")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	p := New(DefaultConfig())
	p.Verdicts.WithLabelValues("breach").Inc()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `volrecon_reconciliation_verdicts_total{verdict="breach"} 1`)
}
