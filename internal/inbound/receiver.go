package inbound

import (
	"context"
	"time"

	"newsbot/internal/eventbus"
	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

// Interpreter handles one inbound message. handled=false means the message
// was not a command; err reports a failure after any reply was attempted.
type Interpreter interface {
	Interpret(ctx context.Context, msg transport.Message) (handled bool, err error)
}

type Options struct {
	// PollErrorBackoff is the pause after a failed poll. Default 5s.
	PollErrorBackoff time.Duration
}

// CycleResult summarizes one receive pass.
type CycleResult struct {
	Received int
	Fresh    int
	Handled  int
	Failed   int
	Cursor   int64
}

// Receiver is the receive loop. It is not safe for concurrent Cycle calls;
// the loop owns it.
type Receiver struct {
	poller transport.Poller
	interp Interpreter
	cursor *Cursor
	bus    eventbus.Bus
	log    logx.Logger
	opts   Options

	loaded bool
	next   int64
	dirty  bool // next is ahead of the stored cursor
}

func NewReceiver(poller transport.Poller, interp Interpreter, cursor *Cursor, bus eventbus.Bus, log logx.Logger, opts Options) *Receiver {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if opts.PollErrorBackoff <= 0 {
		opts.PollErrorBackoff = 5 * time.Second
	}
	return &Receiver{
		poller: poller,
		interp: interp,
		cursor: cursor,
		bus:    bus,
		log:    log.With(logx.String("comp", "inbound")),
		opts:   opts,
	}
}

// Cycle performs one poll, interprets fresh messages and advances the cursor.
// The cursor advances even when some messages failed.
func (r *Receiver) Cycle(ctx context.Context) (CycleResult, error) {
	if !r.loaded {
		v, err := r.cursor.Load(ctx)
		if err != nil {
			return CycleResult{}, err
		}
		r.next, r.loaded = v, true
		r.log.Info("inbound cursor loaded", logx.Int64("cursor", v))
	}
	if r.dirty {
		if err := r.persist(ctx, r.next); err != nil {
			return CycleResult{Cursor: r.next}, err
		}
	}

	batch, err := r.poller.Poll(ctx, r.next)
	if err != nil {
		return CycleResult{Cursor: r.next}, err
	}
	res := CycleResult{Received: len(batch), Cursor: r.next}
	if len(batch) == 0 {
		return res, nil
	}

	fresh := FilterNew(batch, r.next)
	res.Fresh = len(fresh)
	for _, u := range fresh {
		if u.Message == nil || u.Message.FromID.IsZero() {
			continue
		}
		handled, err := r.interp.Interpret(ctx, *u.Message)
		if err != nil {
			res.Failed++
			r.log.Error("command failed",
				logx.Int64("update_id", u.ID),
				logx.Int64("from", int64(u.Message.FromID)),
				logx.Err(err),
			)
			continue
		}
		if handled {
			res.Handled++
		}
	}

	if next := NextOffset(batch); next > r.next {
		r.next = next
	}
	err = r.persist(ctx, r.next)
	res.Cursor = r.next
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeInboundBatch, Data: eventbus.InboundBatch{
		Received: res.Received,
		Fresh:    res.Fresh,
		Cursor:   res.Cursor,
	}})
	return res, err
}

func (r *Receiver) persist(ctx context.Context, next int64) error {
	stored, err := r.cursor.AdvanceTo(ctx, next)
	if err != nil {
		r.dirty = true
		return err
	}
	r.dirty = false
	if stored > r.next {
		r.next = stored
	}
	return nil
}

// Run cycles until ctx is canceled. Failures are logged and retried after
// the configured backoff.
func (r *Receiver) Run(ctx context.Context) error {
	r.log.Info("receive loop started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("receive cycle failed", logx.Err(err), logx.Duration("backoff", r.opts.PollErrorBackoff))
			t := time.NewTimer(r.opts.PollErrorBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		if res.Received > 0 {
			r.log.Debug("receive cycle",
				logx.Int("received", res.Received),
				logx.Int("fresh", res.Fresh),
				logx.Int("handled", res.Handled),
				logx.Int64("cursor", res.Cursor),
			)
		}
	}
}
