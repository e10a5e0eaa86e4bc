package application

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/bnema/chatshell/internal/uiloop"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeChat struct {
	log *callLog

	onConnect    observer.Signal
	onReconnect  observer.Signal
	onDisconnect observer.Signal
	onState      observer.Event[domain.StateUpdate]

	users *fakeUsers
	convs *fakeConversationList

	connectErr   error
	syncErr      error
	setActiveErr error

	stopOnce sync.Once
	stop     chan struct{}
}

var _ ports.ChatService = (*fakeChat)(nil)

func newFakeChat() *fakeChat {
	log := &callLog{}
	self := domain.User{ID: "u-1", FullName: "Alice Example", IsSelf: true, PhotoURL: "//lh3.example.com/alice.png"}
	bob := domain.User{ID: "u-2", FullName: "Bob Example"}

	return &fakeChat{
		log:   log,
		users: &fakeUsers{self: self, users: map[domain.UserID]domain.User{self.ID: self, bob.ID: bob}},
		convs: newFakeConversationList(log,
			newFakeConversation(log, "c-1", "Team", false),
			newFakeConversation(log, "c-2", "Archive", true),
		),
		stop: make(chan struct{}),
	}
}

func (f *fakeChat) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.onConnect.Fire(struct{}{})

	select {
	case <-f.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeChat) Disconnect(context.Context) error {
	f.log.record("disconnect")
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeChat) SetActive(context.Context) error {
	f.log.record("set active")
	return f.setActiveErr
}

func (f *fakeChat) Sync(context.Context) (ports.UserList, ports.ConversationList, error) {
	if f.syncErr != nil {
		return nil, nil, f.syncErr
	}
	return f.users, f.convs, nil
}

func (f *fakeChat) UploadImage(_ context.Context, r io.Reader, filename string) (domain.UploadedImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.UploadedImage{}, err
	}
	f.log.record("upload %s %d", filename, len(data))
	return domain.UploadedImage{ID: "img-1", Filename: filename}, nil
}

func (f *fakeChat) OnConnect() *observer.Signal                        { return &f.onConnect }
func (f *fakeChat) OnReconnect() *observer.Signal                      { return &f.onReconnect }
func (f *fakeChat) OnDisconnect() *observer.Signal                     { return &f.onDisconnect }
func (f *fakeChat) OnStateUpdate() *observer.Event[domain.StateUpdate] { return &f.onState }

type fakeUsers struct {
	self  domain.User
	users map[domain.UserID]domain.User
}

func (u *fakeUsers) Self() domain.User { return u.self }

func (u *fakeUsers) User(id domain.UserID) (domain.User, bool) {
	user, ok := u.users[id]
	return user, ok
}

func (u *fakeUsers) All() []domain.User {
	all := make([]domain.User, 0, len(u.users))
	for _, user := range u.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

type fakeConversationList struct {
	log   *callLog
	convs []*fakeConversation

	onEvent     observer.Event[domain.Event]
	onTyping    observer.Event[domain.Typing]
	onWatermark observer.Event[domain.Watermark]
}

func newFakeConversationList(log *callLog, convs ...*fakeConversation) *fakeConversationList {
	return &fakeConversationList{log: log, convs: convs}
}

func (l *fakeConversationList) All(includeArchived bool) []ports.Conversation {
	var all []ports.Conversation
	for _, conv := range l.convs {
		if conv.archived && !includeArchived {
			continue
		}
		all = append(all, conv)
	}
	return all
}

func (l *fakeConversationList) Get(id domain.ConversationID) (ports.Conversation, error) {
	for _, conv := range l.convs {
		if conv.id == id {
			return conv, nil
		}
	}
	return nil, fmt.Errorf("conversation %q: %w", id, domain.ErrConversationNotFound)
}

func (l *fakeConversationList) Leave(_ context.Context, id domain.ConversationID) error {
	l.log.record("leave conversation %s", id)
	return nil
}

func (l *fakeConversationList) OnEvent() *observer.Event[domain.Event]         { return &l.onEvent }
func (l *fakeConversationList) OnTyping() *observer.Event[domain.Typing]       { return &l.onTyping }
func (l *fakeConversationList) OnWatermark() *observer.Event[domain.Watermark] { return &l.onWatermark }

type fakeConversation struct {
	log      *callLog
	id       domain.ConversationID
	name     string
	archived bool
	events   []domain.Event

	onEvent     observer.Event[domain.Event]
	onTyping    observer.Event[domain.Typing]
	onWatermark observer.Event[domain.Watermark]
}

var _ ports.Conversation = (*fakeConversation)(nil)

func newFakeConversation(log *callLog, id domain.ConversationID, name string, archived bool) *fakeConversation {
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return &fakeConversation{
		log:      log,
		id:       id,
		name:     name,
		archived: archived,
		events: []domain.Event{
			{ID: "e-1", ConversationID: id, UserID: "u-2", Timestamp: base, Kind: domain.EventChatMessage, Segments: domain.TextSegments("hi")},
			{ID: "e-2", ConversationID: id, UserID: "u-1", Timestamp: base.Add(time.Minute), Kind: domain.EventChatMessage, Segments: domain.TextSegments("hello")},
		},
	}
}

func (c *fakeConversation) ID() domain.ConversationID      { return c.id }
func (c *fakeConversation) Name() string                   { return c.name }
func (c *fakeConversation) Users() []domain.User           { return nil }
func (c *fakeConversation) LastModified() time.Time        { return c.events[len(c.events)-1].Timestamp }
func (c *fakeConversation) LatestReadTimestamp() time.Time { return time.Time{} }
func (c *fakeConversation) Events() []domain.Event         { return c.events }
func (c *fakeConversation) Watermarks() []domain.Watermark { return nil }
func (c *fakeConversation) UnreadEvents() []domain.Event   { return c.events }
func (c *fakeConversation) IsArchived() bool               { return c.archived }
func (c *fakeConversation) IsQuiet() bool                  { return false }
func (c *fakeConversation) IsOffTheRecord() bool           { return false }

func (c *fakeConversation) User(domain.UserID) (domain.User, bool) { return domain.User{}, false }

func (c *fakeConversation) Event(id domain.EventID) (domain.Event, bool) {
	for _, event := range c.events {
		if event.ID == id {
			return event, true
		}
	}
	return domain.Event{}, false
}

func (c *fakeConversation) NextEvent(domain.EventID, bool) (domain.Event, bool) {
	return domain.Event{}, false
}

func (c *fakeConversation) SendMessage(_ context.Context, segments []domain.Segment, image *domain.UploadedImage) error {
	text := domain.Event{Segments: segments}.Text()
	if image != nil {
		c.log.record("send %s %s [%s]", c.id, text, image.ID)
		return nil
	}
	c.log.record("send %s %s", c.id, text)
	return nil
}

func (c *fakeConversation) Leave(context.Context) error {
	c.log.record("leave %s", c.id)
	return nil
}

func (c *fakeConversation) Rename(_ context.Context, name string) error {
	c.log.record("rename %s %s", c.id, name)
	return nil
}

func (c *fakeConversation) SetNotificationLevel(_ context.Context, level domain.NotificationLevel) error {
	c.log.record("notification level %s %s", c.id, level)
	return nil
}

func (c *fakeConversation) SetTyping(_ context.Context, status domain.TypingStatus) error {
	c.log.record("typing %s %s", c.id, status)
	return nil
}

func (c *fakeConversation) UpdateReadTimestamp(_ context.Context, ts time.Time) error {
	c.log.record("read %s %s", c.id, ts.Format(time.RFC3339))
	return nil
}

func (c *fakeConversation) FetchEvents(_ context.Context, before domain.EventID, max int) ([]domain.Event, error) {
	c.log.record("fetch events %s before=%s max=%d", c.id, before, max)
	return c.events[:1], nil
}

func (c *fakeConversation) OnEvent() *observer.Event[domain.Event]         { return &c.onEvent }
func (c *fakeConversation) OnTyping() *observer.Event[domain.Typing]       { return &c.onTyping }
func (c *fakeConversation) OnWatermark() *observer.Event[domain.Watermark] { return &c.onWatermark }

func runUILoop(t *testing.T) *uiloop.Loop {
	t.Helper()

	ui := uiloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ui.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ui
}

// flushUI waits until everything posted so far has run.
func flushUI(t *testing.T, ui ports.UILoop) {
	t.Helper()

	done := make(chan struct{})
	ui.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ui loop did not flush")
	}
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }
