// Package observer provides token-keyed observer lists for backend events.
package observer

import "sync"

// Token identifies one registration. The zero Token never matches a registration.
type Token struct {
	id uint64
}

func (t Token) Valid() bool {
	return t.id != 0
}

type registration[T any] struct {
	id uint64
	fn func(T)
}

// Event observers run on the goroutine calling Fire, in registration order.
type Event[T any] struct {
	mu     sync.Mutex
	nextID uint64
	regs   []registration[T]
}

func (e *Event[T]) Add(fn func(T)) Token {
	if fn == nil {
		return Token{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.regs = append(e.regs, registration[T]{id: e.nextID, fn: fn})
	return Token{id: e.nextID}
}

func (e *Event[T]) Remove(tok Token) bool {
	if !tok.Valid() {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, reg := range e.regs {
		if reg.id == tok.id {
			e.regs = append(e.regs[:i:i], e.regs[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.regs)
}

func (e *Event[T]) Fire(value T) {
	e.mu.Lock()
	regs := make([]registration[T], len(e.regs))
	copy(regs, e.regs)
	e.mu.Unlock()

	for _, reg := range regs {
		reg.fn(value)
	}
}

type Signal = Event[struct{}]
