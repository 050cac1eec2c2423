// Package transporttest provides an in-memory transport.Bot for tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	"newsbot/internal/transport"
)

type Sent struct {
	To   transport.ChatID
	Text string
}

// Bot records sends and serves scripted poll batches in order.
// Once the script is exhausted Poll returns an empty batch, after waiting
// Idle like a long poll would.
type Bot struct {
	mu      sync.Mutex
	sent    []Sent
	batches [][]transport.Update
	pollErr []error
	offsets []int64

	// SendErr, when non-nil, decides the error for each send.
	SendErr func(to transport.ChatID, text string) error
	Idle    time.Duration
}

func (b *Bot) Send(ctx context.Context, to transport.ChatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	fn := b.SendErr
	b.mu.Unlock()
	if fn != nil {
		if err := fn(to, text); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.sent = append(b.sent, Sent{To: to, Text: text})
	b.mu.Unlock()
	return nil
}

// Enqueue appends a batch to the poll script.
func (b *Bot) Enqueue(batch ...transport.Update) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.pollErr = append(b.pollErr, nil)
	b.mu.Unlock()
}

// EnqueueErr appends a failing poll to the script.
func (b *Bot) EnqueueErr(err error) {
	b.mu.Lock()
	b.batches = append(b.batches, nil)
	b.pollErr = append(b.pollErr, err)
	b.mu.Unlock()
}

func (b *Bot) Poll(ctx context.Context, offset int64) ([]transport.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.offsets = append(b.offsets, offset)
	if len(b.batches) == 0 {
		idle := b.Idle
		b.mu.Unlock()
		if idle > 0 {
			t := time.NewTimer(idle)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		return nil, nil
	}
	defer b.mu.Unlock()
	batch, err := b.batches[0], b.pollErr[0]
	b.batches, b.pollErr = b.batches[1:], b.pollErr[1:]
	return batch, err
}

func (b *Bot) Sent() []Sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sent(nil), b.sent...)
}

// Offsets returns the offsets Poll was called with.
func (b *Bot) Offsets() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.offsets...)
}

// Text builds an update carrying a text message from a private chat.
func Text(updateID int64, from transport.ChatID, text string) transport.Update {
	return transport.Update{
		ID:      updateID,
		Message: &transport.Message{ID: int(updateID), ChatID: from, FromID: from, Text: text},
	}
}
