// Package supervisor runs the bot's long-lived loops under one cancelable
// context with panic capture and restart-on-failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "newsbot/pkg/logx"
)

// healthyRun is how long a loop must survive before its backoff resets.
const healthyRun = 30 * time.Second

type Supervisor struct {
	root context.Context
	stop context.CancelFunc
	log  logx.Logger

	running  atomic.Int64
	restarts atomic.Uint64

	first    atomic.Pointer[error]
	group    sync.WaitGroup
	waitOnce sync.Once
	finished chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	root, stop := context.WithCancel(parent)
	s := &Supervisor{root: root, stop: stop, finished: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Context is canceled by Cancel or Stop.
func (s *Supervisor) Context() context.Context { return s.root }

// Cancel cancels the supervisor context without waiting.
func (s *Supervisor) Cancel() { s.stop() }

func (s *Supervisor) Active() int64 { return s.running.Load() }

// Restarts counts GoRestart restarts across all loops.
func (s *Supervisor) Restarts() uint64 { return s.restarts.Load() }

// Err returns the first failure recorded, or nil.
func (s *Supervisor) Err() error {
	if p := s.first.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	s.first.CompareAndSwap(nil, &err)
}

// Go runs fn once. A panic or a non-cancel error is recorded as Err.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.group.Add(1)
	s.running.Add(1)
	go func() {
		defer s.group.Done()
		defer s.running.Add(-1)

		res := guard(s.root, fn)
		switch {
		case res.panicked:
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", res.value), logx.String("stack", res.stack))
			s.fail(fmt.Errorf("%s panicked: %v", name, res.value))
		case res.err != nil && !errors.Is(res.err, context.Canceled):
			s.fail(fmt.Errorf("%s: %w", name, res.err))
		default:
			s.log.Debug("goroutine stopped", logx.String("name", name))
		}
	}()
}

// GoFunc is Go for loops that have no error to report.
func (s *Supervisor) GoFunc(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	floor, ceil time.Duration
	limit       int // 0 means unlimited
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(floor, ceil time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if floor > 0 {
			p.floor = floor
		}
		if ceil > 0 {
			p.ceil = ceil
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run is not counted.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.limit = max(n, 0) }
}

// jittered adds up to 20% on top of d.
func jittered(d time.Duration) time.Duration {
	if span := int64(d) / 5; span > 0 {
		return d + time.Duration(rand.Int63n(span+1))
	}
	return d
}

// GoRestart runs fn until ctx is canceled, restarting it after an error or
// panic with jittered exponential backoff. A nil return stops the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{floor: 250 * time.Millisecond, ceil: 30 * time.Second}
	for _, opt := range opts {
		opt(&p)
	}
	p.ceil = max(p.ceil, p.floor)

	s.GoFunc(name, func(ctx context.Context) {
		delay := p.floor
		for attempt := 1; ; attempt++ {
			began := time.Now()
			res := guard(ctx, fn)
			err := res.err
			if res.panicked {
				s.log.Error("goroutine panicked, restarting", logx.String("name", name), logx.Any("panic", res.value), logx.String("stack", res.stack))
				err = fmt.Errorf("panic: %v", res.value)
			}
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if p.limit > 0 && attempt > p.limit {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", attempt-1), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			s.restarts.Add(1)

			if time.Since(began) >= healthyRun {
				delay = p.floor
			}
			wait := jittered(delay)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleep(ctx, wait) {
				return
			}
			delay = min(delay*2, p.ceil)
		}
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type outcome struct {
	err      error
	panicked bool
	value    any
	stack    string
}

func guard(ctx context.Context, fn func(ctx context.Context) error) (res outcome) {
	defer func() {
		if v := recover(); v != nil {
			res = outcome{panicked: true, value: v, stack: string(debug.Stack())}
		}
	}()
	return outcome{err: fn(ctx)}
}

// Stop cancels every loop and waits for them.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stop()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.group.Wait()
			close(s.finished)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		return s.Err()
	}
}
