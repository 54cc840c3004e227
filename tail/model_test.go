// ABOUTME: Tests for the observer model: event buffering, formatting, and quit keys.

package tail_test

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/chimera/protocol"
	"github.com/2389-research/chimera/tail"
)

func TestModelBuffersEvents(t *testing.T) {
	m := tail.NewModel("/tmp/thread.jsonl")

	var model tea.Model = m
	model, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	model, _ = model.Update(tail.EventMsg(protocol.UserMessage("hello")))
	model, _ = model.Update(tail.EventMsg(protocol.TextComplete("t1", "hi there")))

	got := model.(tail.Model)
	if got.Len() != 2 {
		t.Errorf("len = %d, want 2", got.Len())
	}
	view := got.View()
	if !strings.Contains(view, "hello") || !strings.Contains(view, "hi there") {
		t.Errorf("view missing event content:\n%s", view)
	}
}

func TestModelQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "esc", "ctrl+c"} {
		m := tail.NewModel("x.jsonl")
		var msg tea.KeyMsg
		switch key {
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Errorf("key %q must quit", key)
		}
	}
}

func TestFormatEventShapes(t *testing.T) {
	cases := []struct {
		name  string
		event protocol.Event
		want  string
	}{
		{"user message", protocol.UserMessage("what time is it"), "what time is it"},
		{"text complete", protocol.TextComplete("t1", "it is noon"), "it is noon"},
		{"agent start", protocol.AgentStart("a1", "Helper", "msg_1"), "[Helper]"},
		{"tool call", protocol.ToolInputAvailable("call_1", "echo", map[string]any{"s": "x"}), "[echo]"},
		{"tool error", protocol.ToolErrorEvent("call_1", "echo", "boom"), "boom"},
		{"mutation", protocol.AppMutation("widget:Notes:n1", map[string]any{"op": "add"}), "[widget:Notes:n1]"},
		{"error", protocol.ErrorEvent("Execution halted by user"), "Execution halted by user"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line := tail.FormatEvent(tc.event)
			if !strings.Contains(line, tc.want) {
				t.Errorf("FormatEvent(%s) = %q, want substring %q", tc.event.Type, line, tc.want)
			}
		})
	}
}

func TestFormatEventTruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", 300)
	line := tail.FormatEvent(protocol.TextComplete("t1", long))
	if strings.Contains(line, long) {
		t.Error("long content must be truncated")
	}
}
