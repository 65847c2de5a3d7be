package source

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-recon-go/record"
)

func TestSpoolTakeDrainsWindow(t *testing.T) {
	s := NewSpool()
	w := record.Day(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	s.Add(w, Batch{Transactions: []record.RawTransaction{{ID: "t1"}}})
	s.Add(w, Batch{Transactions: []record.RawTransaction{{ID: "t2"}}})
	s.Add(w, Batch{}) // empty batches are not spooled
	require.Equal(t, 1, s.Pending())

	src := s.Take(w)
	ctx := context.Background()
	b1, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", b1.Transactions[0].ID)
	b2, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", b2.Transactions[0].ID)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	assert.Zero(t, s.Pending(), "take removes the window")
}

func TestSpoolSeparatesWindows(t *testing.T) {
	s := NewSpool()
	w1 := record.Day(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	w2 := record.Day(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))

	s.Add(w1, Batch{Users: []record.RawUser{{ID: "u1"}}})
	s.Add(w2, Batch{Users: []record.RawUser{{ID: "u2"}}})

	b, err := s.Take(w2).Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u2", b.Users[0].ID)
	assert.Equal(t, 1, s.Pending())
}
