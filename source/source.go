// Package source delivers raw record batches to the pipeline.
package source

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"volume-recon-go/record"
)

// Batch is one micro-batch of raw records awaiting validation.
type Batch struct {
	Transactions []record.RawTransaction `json:"transactions"`
	Users        []record.RawUser        `json:"users"`
	Rates        []record.RawRate        `json:"rates"`
}

// Empty reports whether the batch carries no records.
func (b Batch) Empty() bool {
	return len(b.Transactions) == 0 && len(b.Users) == 0 && len(b.Rates) == 0
}

// BatchSource yields batches until drained, signalled by io.EOF.
type BatchSource interface {
	Next(ctx context.Context) (Batch, error)
}

// Static replays a fixed sequence of batches. Safe for concurrent use.
type Static struct {
	mu      sync.Mutex
	batches []Batch
	pos     int
}

func NewStatic(batches ...Batch) *Static {
	return &Static{batches: batches}
}

func (s *Static) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.batches) {
		return Batch{}, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

// LoadFile reads a single batch from a JSON file.
func LoadFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, err
	}
	return b, nil
}
