package domain

import (
	"strings"
	"time"
)

type (
	UserID         string
	ConversationID string
	EventID        string
)

type User struct {
	ID        UserID
	FullName  string
	FirstName string
	PhotoURL  string
	Emails    []string
	IsSelf    bool
}

func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return string(u.ID)
}

type EventKind string

const (
	EventChatMessage      EventKind = "chat_message"
	EventRename           EventKind = "rename"
	EventMembershipChange EventKind = "membership_change"
	EventHangout          EventKind = "hangout"
)

type Segment struct {
	Text string
	Link string
}

func TextSegments(text string) []Segment {
	if text == "" {
		return nil
	}
	return []Segment{{Text: text}}
}

// Event is one entry of a conversation's history.
type Event struct {
	ID             EventID
	ConversationID ConversationID
	UserID         UserID
	Timestamp      time.Time
	Kind           EventKind
	Segments       []Segment
	// Attachments holds remote image URLs.
	Attachments []string
	NewName     string
}

func (e Event) Text() string {
	var b strings.Builder
	for _, segment := range e.Segments {
		b.WriteString(segment.Text)
	}
	return b.String()
}

type TypingStatus string

const (
	TypingStarted TypingStatus = "started"
	TypingPaused  TypingStatus = "paused"
	TypingStopped TypingStatus = "stopped"
)

type Typing struct {
	ConversationID ConversationID
	UserID         UserID
	Status         TypingStatus
}

type Watermark struct {
	ConversationID ConversationID
	UserID         UserID
	ReadTimestamp  time.Time
}

type NotificationLevel string

const (
	NotificationQuiet NotificationLevel = "quiet"
	NotificationRing  NotificationLevel = "ring"
)

func ParseNotificationLevel(raw string) (NotificationLevel, error) {
	switch NotificationLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case NotificationQuiet:
		return NotificationQuiet, nil
	case NotificationRing:
		return NotificationRing, nil
	default:
		return "", ErrInvalidNotificationLevel
	}
}

type StateUpdate struct {
	ConversationID    ConversationID
	ActiveClientState string
	Timestamp         time.Time
}

type UploadedImage struct {
	ID       string
	Filename string
}

type Notification struct {
	Title          string
	Body           string
	ConversationID ConversationID
}
