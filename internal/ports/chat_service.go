package ports

import (
	"context"
	"io"
	"time"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/observer"
)

// ChatService is a connection to the remote chat backend. Observers fire on the backend's
// own goroutine.
type ChatService interface {
	// Connect blocks for the lifetime of the connection. OnConnect fires once the
	// connection is usable; Connect returns nil after Disconnect.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetActive(ctx context.Context) error
	// Sync builds the initial user and conversation snapshot.
	Sync(ctx context.Context) (UserList, ConversationList, error)
	UploadImage(ctx context.Context, r io.Reader, filename string) (domain.UploadedImage, error)

	OnConnect() *observer.Signal
	OnReconnect() *observer.Signal
	OnDisconnect() *observer.Signal
	OnStateUpdate() *observer.Event[domain.StateUpdate]
}

type UserList interface {
	Self() domain.User
	User(id domain.UserID) (domain.User, bool)
	All() []domain.User
}

type ConversationList interface {
	All(includeArchived bool) []Conversation
	Get(id domain.ConversationID) (Conversation, error)
	Leave(ctx context.Context, id domain.ConversationID) error

	OnEvent() *observer.Event[domain.Event]
	OnTyping() *observer.Event[domain.Typing]
	OnWatermark() *observer.Event[domain.Watermark]
}

// Conversation is backend-owned conversation state. Readers are safe for concurrent use;
// the context-taking operations talk to the backend.
type Conversation interface {
	ID() domain.ConversationID
	Name() string
	Users() []domain.User
	User(id domain.UserID) (domain.User, bool)
	LastModified() time.Time
	LatestReadTimestamp() time.Time
	Events() []domain.Event
	Event(id domain.EventID) (domain.Event, bool)
	NextEvent(id domain.EventID, prev bool) (domain.Event, bool)
	Watermarks() []domain.Watermark
	UnreadEvents() []domain.Event
	IsArchived() bool
	IsQuiet() bool
	IsOffTheRecord() bool

	SendMessage(ctx context.Context, segments []domain.Segment, image *domain.UploadedImage) error
	Leave(ctx context.Context) error
	Rename(ctx context.Context, name string) error
	SetNotificationLevel(ctx context.Context, level domain.NotificationLevel) error
	SetTyping(ctx context.Context, status domain.TypingStatus) error
	UpdateReadTimestamp(ctx context.Context, ts time.Time) error
	FetchEvents(ctx context.Context, before domain.EventID, max int) ([]domain.Event, error)

	OnEvent() *observer.Event[domain.Event]
	OnTyping() *observer.Event[domain.Typing]
	OnWatermark() *observer.Event[domain.Watermark]
}
