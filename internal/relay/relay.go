// Package relay moves backend observer callbacks onto the UI loop.
package relay

import (
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
)

func Connect[T any](ui ports.UILoop, ev *observer.Event[T], cb func(T)) observer.Token {
	if cb == nil {
		return observer.Token{}
	}

	return ev.Add(func(value T) {
		ui.Post(func() { cb(value) })
	})
}

func ConnectSignal(ui ports.UILoop, ev *observer.Signal, cb func()) observer.Token {
	if cb == nil {
		return observer.Token{}
	}

	return Connect(ui, ev, func(struct{}) { cb() })
}

func Disconnect[T any](ev *observer.Event[T], tok observer.Token) bool {
	return ev.Remove(tok)
}
