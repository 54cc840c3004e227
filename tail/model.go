// ABOUTME: Bubble Tea model for the log observer: a scrolling viewport of formatted
// ABOUTME: ThreadProtocol events with a spinner while following the live log.
package tail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/chimera/protocol"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	agentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutationStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	plainStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// maxEntries bounds the in-memory event buffer.
const maxEntries = 500

// EventMsg delivers one log event to the model.
type EventMsg protocol.Event

// FollowErrMsg reports a failure in the follower goroutine.
type FollowErrMsg struct{ Err error }

// FollowClosedMsg signals the follower stopped (context cancelled).
type FollowClosedMsg struct{}

// Model is the observer TUI state.
type Model struct {
	path     string
	events   []protocol.Event
	viewport viewport.Model
	spinner  spinner.Model

	following bool
	err       error
	width     int
	height    int
	ready     bool
}

// NewModel creates the observer model for the log at path.
func NewModel(path string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	return Model{
		path:      path,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		following: true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 4
		if m.viewport.Height < 1 {
			m.viewport.Height = 1
		}
		m.ready = true
		m.syncViewport()
		return m, nil

	case EventMsg:
		m.appendEvent(protocol.Event(msg))
		return m, nil

	case FollowErrMsg:
		m.err = msg.Err
		m.following = false
		return m, nil

	case FollowClosedMsg:
		m.following = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	title := titleStyle.Render("CHIMERA LOG ") + plainStyle.Render(m.path)
	body := m.viewport.View()
	if len(m.events) == 0 {
		body = plainStyle.Render("No events yet")
	}

	status := fmt.Sprintf("%d events", len(m.events))
	if m.err != nil {
		status += "  " + errorStyle.Render(m.err.Error())
	} else if m.following {
		status = m.spinner.View() + " following  " + status
	} else {
		status += "  stopped"
	}
	bar := statusBarStyle.Width(m.width).Render(status + "  (q to quit)")

	return title + "\n" + borderStyle.Width(m.width-2).Render(body) + "\n" + bar
}

// Len returns the number of buffered events.
func (m Model) Len() int { return len(m.events) }

func (m *Model) appendEvent(e protocol.Event) {
	if len(m.events) >= maxEntries {
		m.events = m.events[1:]
	}
	m.events = append(m.events, e)
	m.syncViewport()
}

func (m *Model) syncViewport() {
	if len(m.events) == 0 {
		m.viewport.SetContent("")
		return
	}
	lines := make([]string, 0, len(m.events))
	for _, e := range m.events {
		lines = append(lines, FormatEvent(e))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// FormatEvent renders one event as a styled log line.
func FormatEvent(e protocol.Event) string {
	ts := e.GetString("timestamp")
	if len(ts) >= 19 {
		ts = ts[11:19]
	}
	parts := []string{timestampStyle.Render(ts), styleForType(e.Type).Render(e.Type)}

	switch e.Type {
	case protocol.TypeUserMessage:
		if content, ok := e.Data()["content"].(string); ok {
			parts = append(parts, plainStyle.Render(truncate(content, 80)))
		}
	case protocol.TypeTextComplete, protocol.TypeReasoningComplete:
		parts = append(parts, plainStyle.Render(truncate(e.GetString("content"), 80)))
	case protocol.TypeAgentStart, protocol.TypeAgentFinish:
		if name, ok := e.Data()["agentName"].(string); ok {
			parts = append(parts, fmt.Sprintf("[%s]", name))
		}
	case protocol.TypeToolInputAvailable, protocol.TypeToolOutputAvailable, protocol.TypeToolError:
		parts = append(parts, fmt.Sprintf("[%s]", e.GetString("toolName")))
		if errText := e.GetString("error"); errText != "" {
			parts = append(parts, errorStyle.Render(truncate(errText, 60)))
		}
	case protocol.TypeAppMutation:
		parts = append(parts, fmt.Sprintf("[%s]", e.MutationSource()))
	case protocol.TypeFinishStep:
		if u, ok := e.StepUsage(); ok {
			parts = append(parts, fmt.Sprintf("tokens=%d", u.TotalTokens))
		}
	case protocol.TypeError:
		parts = append(parts, errorStyle.Render(e.GetString("errorText")))
	default:
		parts = append(parts, formatFields(e))
	}
	return strings.Join(parts, " ")
}

// formatFields renders remaining fields as sorted key=value pairs.
func formatFields(e protocol.Event) string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		if k == "timestamp" || k == "type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Fields[k]))
	}
	return plainStyle.Render(truncate(strings.Join(pairs, " "), 100))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func styleForType(typ string) lipgloss.Style {
	switch typ {
	case protocol.TypeUserTurnStart, protocol.TypeUserMessage, protocol.TypeUserTurnEnd:
		return userStyle
	case protocol.TypeAgentStart, protocol.TypeAgentFinish, protocol.TypeTextComplete:
		return agentStyle
	case protocol.TypeToolInputAvailable, protocol.TypeToolOutputAvailable,
		protocol.TypeToolApprovalRequest, protocol.TypeToolOutputDenied:
		return toolStyle
	case protocol.TypeToolError, protocol.TypeError:
		return errorStyle
	case protocol.TypeAppMutation:
		return mutationStyle
	default:
		return plainStyle
	}
}
