package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ecchat/internal/dispatch"
)

const systemName = "ecchat"

type appendMsg struct {
	role dispatch.Role
	text string
	at   time.Time
}

type statusMsg string

type styles struct {
	header lipgloss.Style
	status lipgloss.Style
	prompt lipgloss.Style
	roles  map[dispatch.Role]lipgloss.Style
}

func newStyles() styles {
	muted := lipgloss.Color("#9ca3d8")
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe")),
		status: lipgloss.NewStyle().Foreground(muted),
		prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")).Bold(true),
		roles: map[dispatch.Role]lipgloss.Style{
			dispatch.RoleSystem: lipgloss.NewStyle().Foreground(muted),
			dispatch.RoleSelf:   lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
			dispatch.RolePeer:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		},
	}
}

// model is the bubbletea state of the chat screen. Submitted lines leave
// through submit; everything shown arrives as appendMsg/statusMsg.
type model struct {
	header string
	name   string
	other  string
	submit func(string)

	lines  []string
	status string

	// confirming is set while the quit prompt is shown; pending holds the
	// quit command that opened it, empty for ESC.
	confirming bool
	pending    string

	width  int
	height int
	input  textinput.Model
	view   viewport.Model
	theme  styles
}

func newModel(version, name, other string, submit func(string)) model {
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = 1024
	in.Focus()
	if submit == nil {
		submit = func(string) {}
	}
	return model{
		header: Header(version, name, other),
		name:   name,
		other:  other,
		submit: submit,
		input:  in,
		view:   viewport.New(80, 20),
		theme:  newStyles(),
	}
}

// Header renders the title line shown above the transcript.
func Header(version, name, other string) string {
	if other == "" {
		return fmt.Sprintf("ecchat %s : %s", version, name)
	}
	return fmt.Sprintf("ecchat %s : %s > %s", version, name, other)
}

// FormatLine renders one transcript line as "[HH:MM:SS] name sep text".
func FormatLine(at time.Time, role dispatch.Role, self, other, text string) string {
	name, sep := systemName, "|"
	switch role {
	case dispatch.RoleSelf:
		name, sep = self, ">"
	case dispatch.RolePeer:
		name, sep = other, "<"
		if name == "" {
			name = "peer"
		}
	}
	return fmt.Sprintf("[%s] %s %s %s", at.Format("15:04:05"), name, sep, text)
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = max(1, msg.Width)
		m.view.Height = max(1, msg.Height-3)
		m.input.Width = max(1, msg.Width-len(m.input.Prompt)-1)
		m.view.SetContent(strings.Join(m.lines, "\n"))
		m.view.GotoBottom()
		return m, nil
	case appendMsg:
		line := FormatLine(msg.at, msg.role, m.name, m.other, msg.text)
		if st, ok := m.theme.roles[msg.role]; ok {
			line = st.Render(line)
		}
		m.lines = append(m.lines, line)
		m.view.SetContent(strings.Join(m.lines, "\n"))
		m.view.GotoBottom()
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case tea.KeyMsg:
		return m.key(msg)
	}
	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	if m.confirming {
		switch msg.String() {
		case "y", "Y":
			if m.pending != "" {
				m.submit(m.pending)
			}
			return m, tea.Quit
		case "n", "N", "esc":
			m.confirming, m.pending = false, ""
		}
		return m, nil
	}
	switch msg.Type {
	case tea.KeyEsc:
		m.confirming = true
		return m, nil
	case tea.KeyEnter:
		line := m.input.Value()
		m.input.Reset()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return m, nil
		}
		if fields[0] == "/exit" || fields[0] == "/quit" {
			m.confirming, m.pending = true, line
			return m, nil
		}
		m.submit(line)
		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	bottom := m.input.View()
	if m.confirming {
		bottom = m.theme.prompt.Render("quit ecchat? (y/n)")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.header.Render(m.header),
		m.view.View(),
		m.theme.status.Render(m.status),
		bottom,
	)
}
