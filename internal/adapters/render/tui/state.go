package tui

import (
	"github.com/bnema/chatshell/internal/application"
	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
)

const maxNotices = 3

// State is the terminal UI's view of the session. Everything in it runs on the UI goroutine,
// either from a forwarded UI loop callback or from the bubbletea update.
type State struct {
	phase     domain.Phase
	list      *application.ConversationList
	users     ports.UserList
	signedOut bool
	selected  domain.ConversationID
	typing    map[domain.ConversationID]map[domain.UserID]domain.TypingStatus
	notices   []string
	err       error
}

func NewState() *State {
	return &State{typing: map[domain.ConversationID]map[domain.UserID]domain.TypingStatus{}}
}

// Handlers routes session callbacks into the state.
func (s *State) Handlers() application.Handlers {
	return application.Handlers{
		OnPhase:          func(phase domain.Phase) { s.phase = phase },
		OnAuthError:      s.fail,
		OnNetworkError:   s.fail,
		OnUnhandledError: s.fail,
		OnNotification: func(n domain.Notification) {
			s.notify(n.Title + ": " + n.Body)
		},
	}
}

func (s *State) Phase() domain.Phase { return s.phase }

// SignedOut reports that the session ended or never started without a conversation list.
func (s *State) SignedOut() bool { return s.signedOut }

func (s *State) Err() error { return s.err }

func (s *State) fail(err error) {
	s.err = err
}

func (s *State) notify(text string) {
	s.notices = append(s.notices, text)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}

func (s *State) attach(list *application.ConversationList) {
	if list == nil {
		s.signedOut = true
		return
	}

	s.list = list
	list.OnTyping(s.setTyping)
	list.OnEvent(func(event domain.Event) {
		s.clearTyping(event.ConversationID, event.UserID)
	})

	if convs := list.All(false); len(convs) > 0 && s.selected == "" {
		s.selected = convs[0].ID()
	}
}

func (s *State) setUsers(users ports.UserList) {
	s.users = users
}

func (s *State) setTyping(t domain.Typing) {
	if t.Status == domain.TypingStopped {
		s.clearTyping(t.ConversationID, t.UserID)
		return
	}
	if s.typing[t.ConversationID] == nil {
		s.typing[t.ConversationID] = map[domain.UserID]domain.TypingStatus{}
	}
	s.typing[t.ConversationID][t.UserID] = t.Status
}

func (s *State) clearTyping(id domain.ConversationID, user domain.UserID) {
	delete(s.typing[id], user)
}

func (s *State) conversations() []*application.Conversation {
	if s.list == nil {
		return nil
	}
	return s.list.All(false)
}

func (s *State) sidebarItems() []conversationView {
	convs := s.conversations()
	items := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		items = append(items, conv)
	}
	return items
}

func (s *State) current() *application.Conversation {
	if s.list == nil || s.selected == "" {
		return nil
	}
	conv, err := s.list.Get(s.selected)
	if err != nil {
		return nil
	}
	return conv
}

// move selects the conversation delta steps away, wrapping around.
func (s *State) move(delta int) {
	convs := s.conversations()
	if len(convs) == 0 {
		return
	}

	index := 0
	for i, conv := range convs {
		if conv.ID() == s.selected {
			index = i
			break
		}
	}
	index = ((index+delta)%len(convs) + len(convs)) % len(convs)
	s.selected = convs[index].ID()
}

func (s *State) displayName(conv conversationView, id domain.UserID) string {
	if conv != nil {
		if user, ok := conv.User(id); ok {
			return user.DisplayName()
		}
	}
	if s.users != nil {
		if user, ok := s.users.User(id); ok {
			return user.DisplayName()
		}
	}
	return string(id)
}
