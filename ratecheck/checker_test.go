package ratecheck_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-recon-go/ratecheck"
	"volume-recon-go/record"
)

func rate(pair string, hour int, avg float64) record.Rate {
	return record.Rate{
		Pair:      pair,
		Timestamp: time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC),
		AvgRate:   avg,
	}
}

func TestCheckFlagsDeviationOverThreshold(t *testing.T) {
	c := ratecheck.New(0.10)
	prior := ratecheck.PriorCloses{"BTC-USD": 40000}

	results := c.Check([]record.Rate{
		rate("BTC-USD", 0, 41000), // +2.5%: fine
		rate("BTC-USD", 1, 45000), // +12.5%: anomaly
		rate("BTC-USD", 2, 35000), // -12.5%: anomaly, deviation is absolute
	}, prior)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, record.CheckRateAnomaly, r.Kind)
		assert.Equal(t, record.SeverityWarning, r.Severity)
		assert.Equal(t, "BTC-USD", r.Scope.Pair)
	}
	assert.Len(t, c.Anomalies("BTC-USD"), 2)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestResultStampedWithInjectedClock(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 15, 0, 0, time.UTC)
	c := ratecheck.New(0.10).WithClock(fixedClock{t: at})

	results := c.Check([]record.Rate{rate("BTC-USD", 0, 45000)}, ratecheck.PriorCloses{"BTC-USD": 40000})
	require.Len(t, results, 1)
	assert.True(t, results[0].Timestamp.Equal(at))
}

func TestDeviationExactlyAtThresholdNotFlagged(t *testing.T) {
	c := ratecheck.New(0.10)
	prior := ratecheck.PriorCloses{"ETH-USD": 2000}

	results := c.Check([]record.Rate{rate("ETH-USD", 0, 2200)}, prior) // exactly +10%
	assert.Empty(t, results)
}

func TestPairWithoutBaselineSkipped(t *testing.T) {
	c := ratecheck.New(0.10)

	results := c.Check([]record.Rate{rate("NEW-USD", 0, 123)}, ratecheck.PriorCloses{})
	assert.Empty(t, results)
	assert.Empty(t, c.Anomalies(""))
}

func TestClosingRates(t *testing.T) {
	closes := ratecheck.ClosingRates([]record.Rate{
		rate("BTC-USD", 3, 40300),
		rate("BTC-USD", 23, 40900),
		rate("BTC-USD", 10, 40500),
		rate("ETH-USD", 23, 2250),
	})
	assert.Equal(t, 40900.0, closes["BTC-USD"])
	assert.Equal(t, 2250.0, closes["ETH-USD"])
}

func TestResetClearsAnomalies(t *testing.T) {
	c := ratecheck.New(0.10)
	c.Check([]record.Rate{rate("BTC-USD", 0, 50000)}, ratecheck.PriorCloses{"BTC-USD": 40000})
	require.NotEmpty(t, c.Anomalies("BTC-USD"))

	c.Reset()
	assert.Empty(t, c.Anomalies("BTC-USD"))
}
