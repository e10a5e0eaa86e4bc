package tui

import (
	"fmt"
	"strings"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	sidebarWidth = 24
	timeLayout   = "15:04"
)

type conversationView interface {
	ID() domain.ConversationID
	Name() string
	Users() []domain.User
	User(id domain.UserID) (domain.User, bool)
	Events() []domain.Event
	UnreadEvents() []domain.Event
	IsQuiet() bool
}

type nameFunc func(conv conversationView, id domain.UserID) string

func conversationTitle(conv conversationView) string {
	if name := strings.TrimSpace(conv.Name()); name != "" {
		return name
	}

	var others []string
	for _, user := range conv.Users() {
		if !user.IsSelf {
			others = append(others, user.DisplayName())
		}
	}
	if len(others) == 0 {
		return string(conv.ID())
	}
	return strings.Join(others, ", ")
}

func renderSidebar(items []conversationView, selected domain.ConversationID, s styles, width, height int) string {
	lines := []string{s.title.Render("Conversations")}
	if len(items) == 0 {
		lines = append(lines, s.empty.Render("none"))
	}

	for _, conv := range items {
		label := conversationTitle(conv)
		if unread := len(conv.UnreadEvents()); unread > 0 {
			label = fmt.Sprintf("%s (%d)", label, unread)
		}
		label = runewidth.Truncate(label, width-4, "…")

		switch {
		case conv.ID() == selected:
			lines = append(lines, s.selected.Render("> "+label))
		case len(conv.UnreadEvents()) > 0:
			lines = append(lines, s.unread.Render("  "+label))
		default:
			lines = append(lines, s.conversation.Render("  "+label))
		}
	}

	return s.sidebar.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func renderHistory(conv conversationView, names nameFunc, s styles, width int) string {
	if conv == nil {
		return s.empty.Render("No conversation selected.")
	}

	events := conv.Events()
	if len(events) == 0 {
		return s.empty.Render("No messages yet.")
	}

	wrap := lipgloss.NewStyle().Width(width)
	lines := make([]string, 0, len(events))
	for _, event := range events {
		lines = append(lines, wrap.Render(renderEvent(conv, event, names, s)))
	}
	return strings.Join(lines, "\n")
}

func renderEvent(conv conversationView, event domain.Event, names nameFunc, s styles) string {
	stamp := s.timestamp.Render(event.Timestamp.Local().Format(timeLayout))
	name := names(conv, event.UserID)
	sender := s.sender.Render(name)
	if user, ok := conv.User(event.UserID); ok && user.IsSelf {
		sender = s.self.Render(name)
	}

	switch event.Kind {
	case domain.EventRename:
		return fmt.Sprintf("%s %s renamed the conversation to %q", stamp, sender, event.NewName)
	case domain.EventMembershipChange:
		return fmt.Sprintf("%s %s changed the membership", stamp, sender)
	case domain.EventHangout:
		return fmt.Sprintf("%s %s started a call", stamp, sender)
	}

	var body strings.Builder
	for _, segment := range event.Segments {
		if segment.Link != "" {
			body.WriteString(s.link.Render(segment.Text))
			continue
		}
		body.WriteString(segment.Text)
	}
	for _, url := range event.Attachments {
		if body.Len() > 0 {
			body.WriteString(" ")
		}
		body.WriteString(s.link.Render("[image] " + url))
	}
	return fmt.Sprintf("%s %s: %s", stamp, sender, body.String())
}

func renderTyping(conv conversationView, typing map[domain.UserID]domain.TypingStatus, names nameFunc, s styles) string {
	if conv == nil || len(typing) == 0 {
		return ""
	}

	var typists []string
	for id, status := range typing {
		if status != domain.TypingStarted {
			continue
		}
		if user, ok := conv.User(id); ok && user.IsSelf {
			continue
		}
		typists = append(typists, names(conv, id))
	}
	switch len(typists) {
	case 0:
		return ""
	case 1:
		return s.typing.Render(typists[0] + " is typing…")
	default:
		return s.typing.Render(fmt.Sprintf("%d people are typing…", len(typists)))
	}
}

func renderStatus(state *State, conv conversationView, spin string, s styles) string {
	if err := state.Err(); err != nil {
		return s.warning.Render("error: " + err.Error())
	}
	if state.phase != domain.PhaseRunning {
		return s.status.Render(fmt.Sprintf("%s %s", spin, state.phase))
	}

	parts := []string{s.status.Render(state.phase.String())}
	if conv != nil && conv.IsQuiet() {
		parts = append(parts, s.status.Render("quiet"))
	}
	for _, notice := range state.notices {
		parts = append(parts, s.notice.Render(notice))
	}
	return strings.Join(parts, s.status.Render(" · "))
}
