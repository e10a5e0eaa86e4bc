package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bnema/chatshell/internal/domain"
)

const (
	typeResponse     = "response"
	typeEvent        = "event"
	typeTyping       = "typing"
	typeWatermark    = "watermark"
	typeStateUpdate  = "state_update"
	typeConversation = "conversation"

	typeSync                 = "sync"
	typeSetActive            = "set_active"
	typeSendMessage          = "send_message"
	typeLeave                = "leave"
	typeRename               = "rename"
	typeSetNotificationLevel = "set_notification_level"
	typeSetTyping            = "set_typing"
	typeUpdateWatermark      = "update_watermark"
	typeGetEvents            = "get_events"
)

// envelope is every frame the server sends. Responses carry the id of the request they answer.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
}

type request struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload any    `json:"payload,omitempty"`
}

// RemoteError is a failure reported by the chat server for one request.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "chat server error: " + e.Code
	}
	return fmt.Sprintf("chat server error: %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case "unauthorized", "forbidden":
		return domain.ErrAuth
	case "conversation_not_found":
		return domain.ErrConversationNotFound
	case "event_not_found":
		return domain.ErrEventNotFound
	case "unavailable":
		return domain.ErrNetwork
	default:
		return nil
	}
}

type userPayload struct {
	ID        string   `json:"id"`
	FullName  string   `json:"full_name"`
	FirstName string   `json:"first_name,omitempty"`
	PhotoURL  string   `json:"photo_url,omitempty"`
	Emails    []string `json:"emails,omitempty"`
}

func (p userPayload) toDomain(selfID string) domain.User {
	return domain.User{
		ID:        domain.UserID(p.ID),
		FullName:  p.FullName,
		FirstName: p.FirstName,
		PhotoURL:  p.PhotoURL,
		Emails:    append([]string(nil), p.Emails...),
		IsSelf:    p.ID == selfID,
	}
}

type segmentPayload struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

type eventPayload struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id"`
	Timestamp      time.Time        `json:"timestamp"`
	Kind           string           `json:"kind"`
	Segments       []segmentPayload `json:"segments,omitempty"`
	Attachments    []string         `json:"attachments,omitempty"`
	NewName        string           `json:"new_name,omitempty"`
}

func (p eventPayload) toDomain() domain.Event {
	event := domain.Event{
		ID:             domain.EventID(p.ID),
		ConversationID: domain.ConversationID(p.ConversationID),
		UserID:         domain.UserID(p.SenderID),
		Timestamp:      p.Timestamp,
		Kind:           domain.EventKind(p.Kind),
		Attachments:    append([]string(nil), p.Attachments...),
		NewName:        p.NewName,
	}
	if event.Kind == "" {
		event.Kind = domain.EventChatMessage
	}
	for _, segment := range p.Segments {
		event.Segments = append(event.Segments, domain.Segment{Text: segment.Text, Link: segment.Link})
	}
	return event
}

func eventsToDomain(payloads []eventPayload) []domain.Event {
	events := make([]domain.Event, 0, len(payloads))
	for _, p := range payloads {
		events = append(events, p.toDomain())
	}
	return events
}

func segmentsToWire(segments []domain.Segment) []segmentPayload {
	out := make([]segmentPayload, 0, len(segments))
	for _, segment := range segments {
		out = append(out, segmentPayload{Text: segment.Text, Link: segment.Link})
	}
	return out
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
}

type watermarkPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadTimestamp  time.Time `json:"read_timestamp"`
}

func (p watermarkPayload) toDomain() domain.Watermark {
	return domain.Watermark{
		ConversationID: domain.ConversationID(p.ConversationID),
		UserID:         domain.UserID(p.UserID),
		ReadTimestamp:  p.ReadTimestamp,
	}
}

type stateUpdatePayload struct {
	ConversationID    string    `json:"conversation_id,omitempty"`
	ActiveClientState string    `json:"active_client_state,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

type conversationPayload struct {
	ID           string             `json:"id"`
	Name         string             `json:"name,omitempty"`
	Participants []string           `json:"participants"`
	LastModified time.Time          `json:"last_modified"`
	LatestRead   time.Time          `json:"latest_read"`
	Archived     bool               `json:"archived,omitempty"`
	Quiet        bool               `json:"quiet,omitempty"`
	OffTheRecord bool               `json:"off_the_record,omitempty"`
	Events       []eventPayload     `json:"events,omitempty"`
	Watermarks   []watermarkPayload `json:"watermarks,omitempty"`
}

type syncReply struct {
	SelfID        string                `json:"self_id"`
	Users         []userPayload         `json:"users"`
	Conversations []conversationPayload `json:"conversations"`
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type sendMessageRequest struct {
	ConversationID  string           `json:"conversation_id"`
	ClientMessageID string           `json:"client_message_id"`
	Segments        []segmentPayload `json:"segments"`
	ImageID         string           `json:"image_id,omitempty"`
}

type renameRequest struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}

type notificationLevelRequest struct {
	ConversationID string `json:"conversation_id"`
	Level          string `json:"level"`
}

type setTypingRequest struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

type updateWatermarkRequest struct {
	ConversationID string    `json:"conversation_id"`
	ReadTimestamp  time.Time `json:"read_timestamp"`
}

type getEventsRequest struct {
	ConversationID string `json:"conversation_id"`
	BeforeEventID  string `json:"before_event_id,omitempty"`
	Max            int    `json:"max"`
}

type getEventsReply struct {
	Events []eventPayload `json:"events"`
}

type uploadReply struct {
	ImageID string `json:"image_id"`
}
