// Package inbound runs the receive loop: poll the bot API from a durable
// cursor, hand fresh messages to the command interpreter and advance the
// cursor past everything seen.
//
// The cursor is the next expected update id. An update is fresh iff its id
// is >= the cursor; after a non-empty batch the cursor becomes max(id)+1.
package inbound

import (
	"context"

	"newsbot/internal/storage"
	"newsbot/internal/transport"
)

// DefaultCursorName keys the Telegram update cursor in storage.
const DefaultCursorName = "telegram"

// Cursor is the durable inbound position. It never moves backwards.
type Cursor struct {
	repo storage.CursorRepo
	name string
}

func NewCursor(repo storage.CursorRepo, name string) *Cursor {
	if name == "" {
		name = DefaultCursorName
	}
	return &Cursor{repo: repo, name: name}
}

// Load returns the stored cursor, 0 if none.
func (c *Cursor) Load(ctx context.Context) (int64, error) {
	return c.repo.LoadCursor(ctx, c.name)
}

// Advance moves the cursor past every update in batch and returns the stored
// value. An empty batch changes nothing.
func (c *Cursor) Advance(ctx context.Context, batch []transport.Update) (int64, error) {
	if len(batch) == 0 {
		return c.Load(ctx)
	}
	return c.AdvanceTo(ctx, NextOffset(batch))
}

// AdvanceTo stores max(stored, next).
func (c *Cursor) AdvanceTo(ctx context.Context, next int64) (int64, error) {
	return c.repo.AdvanceCursor(ctx, c.name, next)
}

// NextOffset returns max(update id)+1, or 0 for an empty batch.
func NextOffset(batch []transport.Update) int64 {
	var next int64
	for _, u := range batch {
		if u.ID+1 > next {
			next = u.ID + 1
		}
	}
	return next
}

// FilterNew keeps updates with id >= cursor, preserving order.
func FilterNew(batch []transport.Update, cursor int64) []transport.Update {
	out := make([]transport.Update, 0, len(batch))
	for _, u := range batch {
		if u.ID >= cursor {
			out = append(out, u)
		}
	}
	return out
}
