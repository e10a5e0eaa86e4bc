// Package netloop is the command queue drained by the network goroutine.
package netloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrClosed     = errors.New("command loop is closed")
	ErrNilCommand = errors.New("command has no body")
)

type Command struct {
	Name string
	Run  func(ctx context.Context) error
}

type Loop struct {
	mu        sync.Mutex
	queue     []Command
	accepting bool
	wake      chan struct{}
	log       zerolog.Logger
}

type Option func(*Loop)

func WithLogger(log zerolog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

func New(opts ...Option) *Loop {
	l := &Loop{
		accepting: true,
		wake:      make(chan struct{}, 1),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Submit(cmd Command) error {
	return l.enqueue(cmd, false)
}

// SubmitFinal enqueues cmd as the last command the loop will ever run.
func (l *Loop) SubmitFinal(cmd Command) error {
	return l.enqueue(cmd, true)
}

func (l *Loop) Close() {
	l.mu.Lock()
	l.accepting = false
	l.mu.Unlock()

	l.signal()
}

func (l *Loop) Accepting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepting
}

func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run returns the first failing command error and discards the rest of the queue.
func (l *Loop) Run(ctx context.Context) error {
	for {
		cmd, ok, done := l.next()
		if done {
			l.log.Debug().Msg("command queue drained")
			return nil
		}
		if !ok {
			select {
			case <-ctx.Done():
				l.discard()
				return ctx.Err()
			case <-l.wake:
			}
			continue
		}

		if err := l.execute(ctx, cmd); err != nil {
			l.discard()
			return err
		}
	}
}

func (l *Loop) enqueue(cmd Command, final bool) error {
	if cmd.Run == nil {
		return ErrNilCommand
	}

	l.mu.Lock()
	if !l.accepting {
		l.mu.Unlock()
		l.log.Debug().Str("command", cmd.Name).Msg("command rejected, loop closed")
		return fmt.Errorf("submit %q: %w", cmd.Name, ErrClosed)
	}
	l.queue = append(l.queue, cmd)
	if final {
		l.accepting = false
	}
	l.mu.Unlock()

	l.signal()
	return nil
}

func (l *Loop) next() (Command, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return Command{}, false, !l.accepting
	}

	cmd := l.queue[0]
	l.queue[0] = Command{}
	l.queue = l.queue[1:]
	return cmd, true, false
}

func (l *Loop) execute(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: command %q panicked: %v", domain.ErrUnhandled, cmd.Name, r)
		}
	}()

	l.log.Debug().Str("command", cmd.Name).Msg("executing command")
	if err := cmd.Run(ctx); err != nil {
		l.log.Warn().Err(err).Str("command", cmd.Name).Msg("command failed")
		return fmt.Errorf("run command %q: %w", cmd.Name, err)
	}
	return nil
}

func (l *Loop) discard() {
	l.mu.Lock()
	dropped := len(l.queue)
	l.queue = nil
	l.accepting = false
	l.mu.Unlock()

	if dropped > 0 {
		l.log.Warn().Int("dropped", dropped).Msg("discarded pending commands")
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
