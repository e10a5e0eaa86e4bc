package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	sidebar      lipgloss.Style
	conversation lipgloss.Style
	selected     lipgloss.Style
	unread       lipgloss.Style
	title        lipgloss.Style
	timestamp    lipgloss.Style
	sender       lipgloss.Style
	self         lipgloss.Style
	link         lipgloss.Style
	typing       lipgloss.Style
	status       lipgloss.Style
	notice       lipgloss.Style
	warning      lipgloss.Style
	empty        lipgloss.Style
}

func newStyles() styles {
	return styles{
		sidebar:      lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, true, false, false).BorderForeground(lipgloss.Color("238")).PaddingRight(1),
		conversation: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		selected:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		unread:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("159")),
		title:        lipgloss.NewStyle().Bold(true),
		timestamp:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		sender:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		self:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
		link:         lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("39")),
		typing:       lipgloss.NewStyle().Faint(true).Italic(true),
		status:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		notice:       lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
		warning:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		empty:        lipgloss.NewStyle().Faint(true),
	}
}
