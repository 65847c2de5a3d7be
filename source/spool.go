package source

import (
	"sync"

	"volume-recon-go/record"
)

// Spool buffers streamed batches per window until the window's run takes
// them. Batches land in the window of their arrival day; records that
// belong elsewhere are rejected downstream by validation.
type Spool struct {
	mu       sync.Mutex
	byWindow map[string][]Batch
}

func NewSpool() *Spool {
	return &Spool{byWindow: make(map[string][]Batch)}
}

// Add appends a batch under the window.
func (s *Spool) Add(w record.Window, b Batch) {
	if b.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWindow[w.Key()] = append(s.byWindow[w.Key()], b)
}

// Take removes and returns the window's batches as a source.
func (s *Spool) Take(w record.Window) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := s.byWindow[w.Key()]
	delete(s.byWindow, w.Key())
	return NewStatic(batches...)
}

// Pending returns the number of windows holding spooled batches.
func (s *Spool) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byWindow)
}
