package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/letmevibethatforyou/searchkit"
)

const maxFieldsShown = 4

// searcher is the part of the controller the model drives.
type searcher interface {
	SetInput(text string)
	NextPage() bool
	Retry() bool
}

// stateMsg carries a controller snapshot into the bubbletea loop.
type stateMsg searchkit.SearchState

type model struct {
	input    textinput.Model
	search   searcher
	state    searchkit.SearchState
	width    int
	quitting bool

	titleStyle  lipgloss.Style
	statusStyle lipgloss.Style
	idStyle     lipgloss.Style
	fieldStyle  lipgloss.Style
	errorStyle  lipgloss.Style
	helpStyle   lipgloss.Style
}

func newModel(s searcher) *model {
	ti := textinput.New()
	ti.Placeholder = "type to search"
	ti.Prompt = "› "
	ti.CharLimit = 256
	ti.Focus()

	return &model{
		input:       ti,
		search:      s,
		titleStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		statusStyle: lipgloss.NewStyle().Faint(true),
		idStyle:     lipgloss.NewStyle().Bold(true),
		fieldStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		helpStyle:   lipgloss.NewStyle().Faint(true).Italic(true),
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyCtrlN, tea.KeyPgDown:
			m.search.NextPage()
			return m, nil
		case tea.KeyCtrlR:
			m.search.Retry()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - lipgloss.Width(m.input.Prompt) - 1
		return m, nil

	case stateMsg:
		// Snapshots can arrive out of order through program.Send.
		if msg.Version >= m.state.Version {
			m.state = searchkit.SearchState(msg)
		}
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.search.SetInput(after)
	}
	return m, cmd
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.titleStyle.Render("searchkit"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusStyle.Render(m.statusLine()))
	b.WriteString("\n\n")

	if m.state.Status == searchkit.StatusError && m.state.Err != nil {
		b.WriteString(m.errorStyle.Render("error: " + m.state.Err.Error()))
		b.WriteString("\n\n")
	}

	if r := m.state.Result; r != nil {
		for _, item := range r.Items {
			b.WriteString(m.renderItem(item))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.helpStyle.Render(m.help()))
	return b.String()
}

func (m *model) statusLine() string {
	s := m.state
	switch {
	case s.Result != nil && s.Status == searchkit.StatusSuccess:
		return fmt.Sprintf("%d of %d results", len(s.Result.Items), s.Result.Total)
	case s.Result != nil:
		return fmt.Sprintf("%s (showing %d of %d)", s.Status, len(s.Result.Items), s.Result.Total)
	default:
		return s.Status.String()
	}
}

func (m *model) help() string {
	keys := []string{"esc quit"}
	if r := m.state.Result; r != nil && r.HasMore() && m.state.Status == searchkit.StatusSuccess {
		keys = append(keys, "ctrl+n next page")
	}
	if code := searchkit.CodeOf(m.state.Err); m.state.Status == searchkit.StatusError &&
		code != searchkit.ErrCodeConfig && code != searchkit.ErrCodeInvalidQuery {
		keys = append(keys, "ctrl+r retry")
	}
	return strings.Join(keys, " • ")
}

func (m *model) renderItem(item searchkit.ResultItem) string {
	keys := make([]string, 0, len(item.Fields))
	for k := range item.Fields {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxFieldsShown {
		keys = keys[:maxFieldsShown]
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, item.Fields[k]))
	}
	line := m.idStyle.Render(item.ID)
	if len(parts) > 0 {
		line += "  " + m.fieldStyle.Render(strings.Join(parts, " "))
	}
	if m.width > 0 {
		line = lipgloss.NewStyle().MaxWidth(m.width).Render(line)
	}
	return line
}
