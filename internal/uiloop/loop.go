// Package uiloop implements the UI goroutine's FIFO hand-off queue.
package uiloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/chatshell/internal/ports"
	"github.com/rs/zerolog"
)

type Loop struct {
	mu    sync.Mutex
	queue []func()
	holds int
	wake  chan struct{}
	log   zerolog.Logger
}

var _ ports.UILoop = (*Loop)(nil)

type Option func(*Loop)

func WithLogger(log zerolog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
}

func (l *Loop) Hold() {
	l.mu.Lock()
	l.holds++
	l.mu.Unlock()
}

func (l *Loop) Release() {
	l.mu.Lock()
	if l.holds > 0 {
		l.holds--
	}
	l.mu.Unlock()

	l.signal()
}

func (l *Loop) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holds > 0
}

func (l *Loop) Next(ctx context.Context) (func(), bool) {
	for {
		if fn, ok := l.pop(); ok {
			return fn, true
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-l.wake:
		}
	}
}

func (l *Loop) Run(ctx context.Context) error {
	for {
		fn, ok := l.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		l.invoke(fn)
	}
}

// Drain executes posted functions until no hold remains and the queue is empty.
func (l *Loop) Drain(ctx context.Context) error {
	for {
		fn, ok, held := l.popOrHeld()
		if ok {
			l.invoke(fn)
			continue
		}
		if !held {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) Invoke(fn func()) {
	l.invoke(fn)
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("panic", fmt.Sprint(r)).Msg("ui callback panicked")
		}
	}()
	fn()
}

func (l *Loop) pop() (func(), bool) {
	fn, ok, _ := l.popOrHeld()
	return fn, ok
}

// popOrHeld pops the head, or reports whether a hold remains when the queue is empty. Both
// are observed under one lock so a Post made before the last Release is never missed.
func (l *Loop) popOrHeld() (func(), bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false, l.holds > 0
	}

	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
