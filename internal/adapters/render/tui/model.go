package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/chatshell/internal/application"
	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	chromeHeight  = 3
)

// Session is the part of the session service the terminal UI drives.
type Session interface {
	Start()
	SetFocused(focused bool)
	ConversationListAsync(cb func(*application.ConversationList))
	UserListAsync(cb func(ports.UserList))
	Quit() error
	Logout() error
}

// invokeMsg carries one UI loop callback into the bubbletea goroutine.
type invokeMsg func()

type model struct {
	session Session
	queue   Queue
	state   *State
	styles  styles

	input   textinput.Model
	history viewport.Model
	spinner spinner.Model

	width    int
	height   int
	quitting bool
}

func newModel(session Session, queue Queue, state *State) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "message, or /rename /leave /quiet /ring /more /logout /quit"
	input.Focus()

	m := model{
		session: session,
		queue:   queue,
		state:   state,
		styles:  newStyles(),
		input:   input,
		history: viewport.New(0, 0),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
		width:  defaultWidth,
		height: defaultHeight,
	}
	m.layout()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.start)
}

func (m model) start() tea.Msg {
	m.session.ConversationListAsync(m.state.attach)
	m.session.UserListAsync(m.state.setUsers)
	m.session.SetFocused(true)
	m.session.Start()
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case invokeMsg:
		m.queue.Invoke(msg)
		if m.finished() {
			return m, tea.Quit
		}
		m.refresh()
		return m, nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil
	case tea.FocusMsg:
		m.session.SetFocused(true)
		m.markRead()
		return m, nil
	case tea.BlurMsg:
		m.session.SetFocused(false)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m.quit()
		case tea.KeyTab, tea.KeyShiftTab:
			delta := 1
			if msg.Type == tea.KeyShiftTab {
				delta = -1
			}
			m.state.move(delta)
			m.markRead()
			m.refresh()
			m.history.GotoBottom()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.history, cmd = m.history.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.submit()
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before && after != "" && !strings.HasPrefix(after, "/") {
		if conv := m.state.current(); conv != nil {
			m.report(conv.SetTyping(domain.TypingStarted), "typing")
		}
	}
	return m, cmd
}

func (m model) View() string {
	conv := m.currentView()
	names := m.state.displayName

	typing := ""
	if conv != nil {
		typing = renderTyping(conv, m.state.typing[conv.ID()], names, m.styles)
	}
	main := lipgloss.JoinVertical(lipgloss.Left, m.history.View(), typing)
	sidebar := renderSidebar(m.state.sidebarItems(), m.state.selected, m.styles, sidebarWidth, m.history.Height+1)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main)

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		renderStatus(m.state, conv, m.spinner.View(), m.styles),
		m.input.View(),
	)
}

// finished reports that the program has nothing left to show.
func (m model) finished() bool {
	if m.state.signedOut || m.state.phase == domain.PhaseFailed {
		return true
	}
	return m.quitting && m.state.phase.Terminal()
}

func (m model) quit() (tea.Model, tea.Cmd) {
	return m.leave(m.session.Quit)
}

// leave ends the session with end and quits now unless a running session will report
// its own shutdown.
func (m model) leave(end func() error) (tea.Model, tea.Cmd) {
	m.quitting = true
	if err := end(); err != nil || m.state.phase == domain.PhaseIdle || m.state.phase.Terminal() {
		return m, tea.Quit
	}
	return m, nil
}

func (m model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}
	switch text {
	case "/quit":
		return m.quit()
	case "/logout":
		return m.leave(m.session.Logout)
	}

	conv := m.state.current()
	if conv == nil {
		m.state.notify("no conversation selected")
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		m.command(conv, text)
	} else {
		m.report(conv.SendMessage(domain.TextSegments(text), nil), "send")
		m.report(conv.SetTyping(domain.TypingStopped), "typing")
	}
	m.refresh()
	return m, nil
}

func (m model) command(conv *application.Conversation, text string) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/rename":
		if arg == "" {
			m.state.notify("usage: /rename <name>")
			return
		}
		m.report(conv.Rename(arg), "rename")
	case "/leave":
		m.report(m.state.list.LeaveConversation(conv.ID()), "leave")
		m.state.selected = ""
		m.state.move(0)
	case "/quiet", "/ring":
		level, err := domain.ParseNotificationLevel(strings.TrimPrefix(name, "/"))
		if err != nil {
			m.report(err, "notification level")
			return
		}
		m.report(conv.SetNotificationLevel(level), "notification level")
	case "/more":
		var before domain.EventID
		if events := conv.Events(); len(events) > 0 {
			before = events[0].ID
		}
		state := m.state
		m.report(conv.GetEvents(before, 0, func(events []domain.Event) {
			state.notify(fmt.Sprintf("loaded %d older messages", len(events)))
		}), "load history")
	default:
		m.state.notify("unknown command " + name)
	}
}

func (m model) markRead() {
	conv := m.state.current()
	if conv == nil || len(conv.UnreadEvents()) == 0 {
		return
	}
	m.report(conv.UpdateReadTimestamp(time.Time{}), "mark read")
}

func (m model) report(err error, action string) {
	if err != nil {
		m.state.notify(action + " failed: " + err.Error())
	}
}

func (m *model) layout() {
	m.history.Width = max(m.width-sidebarWidth-4, 10)
	m.history.Height = max(m.height-chromeHeight-1, 1)
	m.input.Width = max(m.width-4, 10)
}

func (m *model) refresh() {
	atBottom := m.history.AtBottom()
	m.history.SetContent(renderHistory(m.currentView(), m.state.displayName, m.styles, m.history.Width))
	if atBottom {
		m.history.GotoBottom()
	}
}

func (m model) currentView() conversationView {
	conv := m.state.current()
	if conv == nil {
		return nil
	}
	return conv
}
