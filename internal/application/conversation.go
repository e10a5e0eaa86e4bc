package application

import (
	"context"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/netloop"
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/bnema/chatshell/internal/relay"
	"golang.org/x/time/rate"
)

const DefaultEventPage = 50

type Conversation struct {
	conv   ports.Conversation
	loop   *netloop.Loop
	ui     ports.UILoop
	typing *rate.Limiter
}

func newConversation(conv ports.Conversation, loop *netloop.Loop, ui ports.UILoop, typingInterval time.Duration) *Conversation {
	limit := rate.Inf
	if typingInterval > 0 {
		limit = rate.Every(typingInterval)
	}

	return &Conversation{
		conv:   conv,
		loop:   loop,
		ui:     ui,
		typing: rate.NewLimiter(limit, 1),
	}
}

func (c *Conversation) ID() domain.ConversationID { return c.conv.ID() }
func (c *Conversation) Name() string { return c.conv.Name() }
func (c *Conversation) Users() []domain.User { return c.conv.Users() }
func (c *Conversation) LastModified() time.Time { return c.conv.LastModified() }
func (c *Conversation) LatestReadTimestamp() time.Time { return c.conv.LatestReadTimestamp() }
func (c *Conversation) Events() []domain.Event { return c.conv.Events() }
func (c *Conversation) Watermarks() []domain.Watermark { return c.conv.Watermarks() }
func (c *Conversation) UnreadEvents() []domain.Event { return c.conv.UnreadEvents() }
func (c *Conversation) IsArchived() bool { return c.conv.IsArchived() }
func (c *Conversation) IsQuiet() bool { return c.conv.IsQuiet() }
func (c *Conversation) IsOffTheRecord() bool { return c.conv.IsOffTheRecord() }
func (c *Conversation) User(id domain.UserID) (domain.User, bool) { return c.conv.User(id) }

func (c *Conversation) Event(id domain.EventID) (domain.Event, bool) {
	return c.conv.Event(id)
}

func (c *Conversation) NextEvent(id domain.EventID, prev bool) (domain.Event, bool) {
	return c.conv.NextEvent(id, prev)
}

func (c *Conversation) OnEvent(cb func(domain.Event)) observer.Token {
	return relay.Connect(c.ui, c.conv.OnEvent(), cb)
}

func (c *Conversation) DisconnectOnEvent(tok observer.Token) bool {
	return relay.Disconnect(c.conv.OnEvent(), tok)
}

func (c *Conversation) OnTyping(cb func(domain.Typing)) observer.Token {
	return relay.Connect(c.ui, c.conv.OnTyping(), cb)
}

func (c *Conversation) DisconnectOnTyping(tok observer.Token) bool {
	return relay.Disconnect(c.conv.OnTyping(), tok)
}

func (c *Conversation) OnWatermark(cb func(domain.Watermark)) observer.Token {
	return relay.Connect(c.ui, c.conv.OnWatermark(), cb)
}

func (c *Conversation) DisconnectOnWatermark(tok observer.Token) bool {
	return relay.Disconnect(c.conv.OnWatermark(), tok)
}

func (c *Conversation) SendMessage(segments []domain.Segment, image *domain.UploadedImage) error {
	return c.submit("send message", func(ctx context.Context) error {
		return c.conv.SendMessage(ctx, segments, image)
	})
}

func (c *Conversation) Leave() error {
	return c.submit("leave", c.conv.Leave)
}

func (c *Conversation) Rename(name string) error {
	return c.submit("rename", func(ctx context.Context) error {
		return c.conv.Rename(ctx, name)
	})
}

func (c *Conversation) SetNotificationLevel(level domain.NotificationLevel) error {
	return c.submit("set notification level", func(ctx context.Context) error {
		return c.conv.SetNotificationLevel(ctx, level)
	})
}

// SetTyping drops TypingStarted updates arriving faster than the typing interval.
func (c *Conversation) SetTyping(status domain.TypingStatus) error {
	if status == domain.TypingStarted && !c.typing.Allow() {
		return nil
	}

	return c.submit("set typing", func(ctx context.Context) error {
		return c.conv.SetTyping(ctx, status)
	})
}

// UpdateReadTimestamp with a zero ts marks up to the newest event.
func (c *Conversation) UpdateReadTimestamp(ts time.Time) error {
	return c.submit("update read timestamp", func(ctx context.Context) error {
		readAt := ts
		if readAt.IsZero() {
			readAt = newestEventTime(c.conv.Events())
		}
		if readAt.IsZero() {
			return nil
		}
		return c.conv.UpdateReadTimestamp(ctx, readAt)
	})
}

func (c *Conversation) GetEvents(before domain.EventID, max int, cb func([]domain.Event)) error {
	if max <= 0 {
		max = DefaultEventPage
	}

	return c.submit("get events", func(ctx context.Context) error {
		events, err := c.conv.FetchEvents(ctx, before, max)
		if err != nil {
			return err
		}
		if cb != nil {
			c.ui.Post(func() { cb(events) })
		}
		return nil
	})
}

func (c *Conversation) submit(name string, run func(context.Context) error) error {
	return c.loop.Submit(netloop.Command{Name: name, Run: run})
}

func newestEventTime(events []domain.Event) time.Time {
	var newest time.Time
	for _, event := range events {
		if event.Timestamp.After(newest) {
			newest = event.Timestamp
		}
	}
	return newest
}
