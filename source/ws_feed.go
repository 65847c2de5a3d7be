package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 256
	defaultFlushEvery = 2 * time.Second
	readDeadline      = 30 * time.Second
)

// WSFeed reads envelope messages off a websocket stream and groups them
// into micro-batches, flushed by size or by a timer.
type WSFeed struct {
	URL        string
	Dialer     *websocket.Dialer
	BatchSize  int
	FlushEvery time.Duration

	log     *zap.Logger
	batches chan Batch
}

func NewWSFeed(url string, log *zap.Logger) *WSFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSFeed{
		URL:        url,
		Dialer:     websocket.DefaultDialer,
		BatchSize:  defaultBatchSize,
		FlushEvery: defaultFlushEvery,
		log:        log,
		batches:    make(chan Batch, 8),
	}
}

// Run dials the feed and pumps micro-batches until ctx is cancelled or
// the connection drops. The batch channel is closed on return, so Next
// drains cleanly with io.EOF.
func (f *WSFeed) Run(ctx context.Context) error {
	defer close(f.batches)

	if f.URL == "" {
		return fmt.Errorf("feed url required")
	}
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	messages := make(chan []byte, f.BatchSize)
	readErr := make(chan error, 1)
	go func() {
		defer close(messages)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			messages <- raw
		}
	}()

	ticker := time.NewTicker(f.FlushEvery)
	defer ticker.Stop()

	var pending Batch
	flush := func() {
		if pending.Empty() {
			return
		}
		select {
		case f.batches <- pending:
		case <-ctx.Done():
		}
		pending = Batch{}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case <-ticker.C:
			flush()
		case raw, ok := <-messages:
			if !ok {
				flush()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return <-readErr
			}
			if err := ParseEnvelope(raw, &pending); err != nil {
				f.log.Warn("feed message dropped", zap.Error(err))
				continue
			}
			if f.batchLen(pending) >= f.BatchSize {
				flush()
			}
		}
	}
}

// Next returns the next micro-batch, or io.EOF once Run has finished.
func (f *WSFeed) Next(ctx context.Context) (Batch, error) {
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case b, ok := <-f.batches:
		if !ok {
			return Batch{}, io.EOF
		}
		return b, nil
	}
}

func (f *WSFeed) batchLen(b Batch) int {
	return len(b.Transactions) + len(b.Users) + len(b.Rates)
}
