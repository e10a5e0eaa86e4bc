package netloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) command(name string) Command {
	return Command{Name: name, Run: func(context.Context) error {
		r.mu.Lock()
		r.got = append(r.got, name)
		r.mu.Unlock()
		return nil
	}}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func runLoop(t *testing.T, loop *Loop) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("command loop did not stop")
		return nil
	}
}

func TestLoopExecutesInSubmitOrderAcrossGoroutines(t *testing.T) {
	t.Parallel()

	loop := New()
	done := runLoop(t, loop)

	const producers, perProducer = 16, 200

	var seqMu sync.Mutex
	seq := 0
	var execMu sync.Mutex
	var executed []int

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				seqMu.Lock()
				seq++
				marker := seq
				err := loop.Submit(Command{Name: fmt.Sprintf("cmd-%d", marker), Run: func(context.Context) error {
					execMu.Lock()
					executed = append(executed, marker)
					execMu.Unlock()
					return nil
				}})
				seqMu.Unlock()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, loop.SubmitFinal(Command{Name: "disconnect", Run: func(context.Context) error { return nil }}))
	require.NoError(t, waitRun(t, done))

	require.Len(t, executed, producers*perProducer)
	for i, marker := range executed {
		require.Equal(t, i+1, marker)
	}
}

func TestLoopDrainsBeforeStoppingAndRejectsLateCommands(t *testing.T) {
	t.Parallel()

	loop := New()
	rec := &recorder{}

	for i := range 5 {
		require.NoError(t, loop.Submit(rec.command(fmt.Sprintf("early-%d", i))))
	}
	require.NoError(t, loop.SubmitFinal(rec.command("disconnect")))

	err := loop.Submit(rec.command("late"))
	require.ErrorIs(t, err, ErrClosed)
	assert.False(t, loop.Accepting())

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []string{"early-0", "early-1", "early-2", "early-3", "early-4", "disconnect"}, rec.names())
	assert.Equal(t, 0, loop.Pending())
}

func TestLoopRenameSendDisconnectFromThreeGoroutines(t *testing.T) {
	t.Parallel()

	loop := New()
	rec := &recorder{}
	done := runLoop(t, loop)

	steps := []struct {
		name  string
		final bool
	}{
		{name: "rename A"},
		{name: "send B"},
		{name: "disconnect", final: true},
	}

	for _, step := range steps {
		submitted := make(chan error, 1)
		go func() {
			if step.final {
				submitted <- loop.SubmitFinal(rec.command(step.name))
				return
			}
			submitted <- loop.Submit(rec.command(step.name))
		}()
		require.NoError(t, <-submitted)
	}

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, []string{"rename A", "send B", "disconnect"}, rec.names())
}

func TestLoopCommandFailureIsFatal(t *testing.T) {
	t.Parallel()

	loop := New()
	rec := &recorder{}
	sendErr := fmt.Errorf("%w: connection reset", domain.ErrNetwork)

	require.NoError(t, loop.Submit(rec.command("first")))
	require.NoError(t, loop.Submit(Command{Name: "send", Run: func(context.Context) error { return sendErr }}))
	require.NoError(t, loop.Submit(rec.command("never")))

	err := loop.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrNetwork)
	assert.Contains(t, err.Error(), `run command "send"`)
	assert.Equal(t, []string{"first"}, rec.names())
	assert.ErrorIs(t, loop.Submit(rec.command("after")), ErrClosed)
}

func TestLoopPanickingCommandIsUnhandled(t *testing.T) {
	t.Parallel()

	loop := New()
	require.NoError(t, loop.Submit(Command{Name: "explode", Run: func(context.Context) error { panic("boom") }}))

	err := loop.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrUnhandled)
	assert.Equal(t, domain.KindUnhandled, domain.KindOf(err))
}

func TestLoopStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	loop := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	err := waitRun(t, done)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestLoopCloseStopsIdleLoop(t *testing.T) {
	t.Parallel()

	loop := New()
	done := runLoop(t, loop)

	loop.Close()
	require.NoError(t, waitRun(t, done))
}

func TestLoopRejectsNilCommand(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, New().Submit(Command{Name: "empty"}), ErrNilCommand)
}
