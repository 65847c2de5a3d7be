package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelopeTransaction(t *testing.T) {
	raw := []byte(`{"type":"transaction","data":{"id":"t1","user_id":"u1","pair":"USD-EUR","amount":100,"price":1.08,"kind":"trade","status":"completed","timestamp":"2026-08-25T10:00:00Z"}}`)

	var b Batch
	require.NoError(t, ParseEnvelope(raw, &b))
	require.Len(t, b.Transactions, 1)
	assert.Equal(t, "t1", b.Transactions[0].ID)
	assert.Equal(t, "USD-EUR", b.Transactions[0].Pair)
}

func TestParseEnvelopeRate(t *testing.T) {
	raw := []byte(`{"type":"rate","data":{"pair":"USD-EUR","avg_rate":1.08,"timestamp":"2026-08-25T10:00:00Z"}}`)

	var b Batch
	require.NoError(t, ParseEnvelope(raw, &b))
	require.Len(t, b.Rates, 1)
	assert.Equal(t, 1.08, b.Rates[0].AvgRate)
}

func TestParseEnvelopeUnknownType(t *testing.T) {
	var b Batch
	err := ParseEnvelope([]byte(`{"type":"order","data":{}}`), &b)
	assert.Error(t, err)
	assert.True(t, b.Empty())
}

func TestParseEnvelopeMalformed(t *testing.T) {
	var b Batch
	assert.Error(t, ParseEnvelope([]byte(`{"type":"user","data":42}`), &b))
}
