package application

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/netloop"
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/bnema/chatshell/internal/relay"
)

// ConversationList hands out one *Conversation per id for the lifetime of the session.
type ConversationList struct {
	list           ports.ConversationList
	loop           *netloop.Loop
	ui             ports.UILoop
	typingInterval time.Duration

	mu       sync.Mutex
	wrappers map[domain.ConversationID]*Conversation
}

func newConversationList(list ports.ConversationList, loop *netloop.Loop, ui ports.UILoop, typingInterval time.Duration) *ConversationList {
	return &ConversationList{
		list:           list,
		loop:           loop,
		ui:             ui,
		typingInterval: typingInterval,
		wrappers:       map[domain.ConversationID]*Conversation{},
	}
}

func (l *ConversationList) All(includeArchived bool) []*Conversation {
	convs := l.list.All(includeArchived)
	wrapped := make([]*Conversation, 0, len(convs))
	for _, conv := range convs {
		wrapped = append(wrapped, l.wrap(conv))
	}
	return wrapped
}

func (l *ConversationList) Get(id domain.ConversationID) (*Conversation, error) {
	l.mu.Lock()
	wrapper, ok := l.wrappers[id]
	l.mu.Unlock()
	if ok {
		return wrapper, nil
	}

	conv, err := l.list.Get(id)
	if err != nil {
		return nil, err
	}
	return l.wrap(conv), nil
}

func (l *ConversationList) LeaveConversation(id domain.ConversationID) error {
	return l.loop.Submit(netloop.Command{Name: "leave conversation", Run: func(ctx context.Context) error {
		return l.list.Leave(ctx, id)
	}})
}

func (l *ConversationList) OnEvent(cb func(domain.Event)) observer.Token {
	return relay.Connect(l.ui, l.list.OnEvent(), cb)
}

func (l *ConversationList) DisconnectOnEvent(tok observer.Token) bool {
	return relay.Disconnect(l.list.OnEvent(), tok)
}

func (l *ConversationList) OnTyping(cb func(domain.Typing)) observer.Token {
	return relay.Connect(l.ui, l.list.OnTyping(), cb)
}

func (l *ConversationList) DisconnectOnTyping(tok observer.Token) bool {
	return relay.Disconnect(l.list.OnTyping(), tok)
}

func (l *ConversationList) OnWatermark(cb func(domain.Watermark)) observer.Token {
	return relay.Connect(l.ui, l.list.OnWatermark(), cb)
}

func (l *ConversationList) DisconnectOnWatermark(tok observer.Token) bool {
	return relay.Disconnect(l.list.OnWatermark(), tok)
}

func (l *ConversationList) wrap(conv ports.Conversation) *Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if wrapper, ok := l.wrappers[conv.ID()]; ok {
		return wrapper
	}

	wrapper := newConversation(conv, l.loop, l.ui, l.typingInterval)
	l.wrappers[conv.ID()] = wrapper
	return wrapper
}
