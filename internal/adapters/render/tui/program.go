// Package tui is the terminal front end. UI loop callbacks are forwarded into the bubbletea
// program so they run on the same goroutine as its updates.
package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Queue is the UI loop as seen by an external driver.
type Queue interface {
	Next(ctx context.Context) (func(), bool)
	Invoke(fn func())
}

// Run shows the terminal UI until the session ends or the user quits.
func Run(ctx context.Context, session Session, queue Queue, state *State, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	options := append([]tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	}, opts...)
	program := tea.NewProgram(newModel(session, queue, state), options...)

	go forward(ctx, queue, program)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func forward(ctx context.Context, queue Queue, program *tea.Program) {
	for {
		fn, ok := queue.Next(ctx)
		if !ok {
			return
		}
		program.Send(invokeMsg(fn))
	}
}
