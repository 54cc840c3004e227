// ABOUTME: Notes widget: a stateful scratchpad whose contents survive resume via
// ABOUTME: mutation replay, surfaced to the agent as ambient instructions.
package widgets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// noteMutation is the single mutation shape the notes widget records.
type noteMutation struct {
	Op   string `json:"op"` // "add" or "clear"
	Text string `json:"text,omitempty"`
}

// Notes keeps an ordered list of short notes the agent writes for itself.
// State changes flow exclusively through Mutate so replay reconstructs the
// same list.
type Notes struct {
	plugin.Base
	plugin.StatefulCore

	instanceID string

	mu    sync.Mutex
	notes []string
}

// NewNotes builds a notes widget from its blueprint config.
func NewNotes(cfg protocol.ComponentConfig) (plugin.Plugin, error) {
	n := &Notes{instanceID: cfg.InstanceID}
	n.StatefulCore.Init(n)
	return n, nil
}

func (n *Notes) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "Notes", Version: "1", InstanceID: n.instanceID}
}

func (n *Notes) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookInstructions, plugin.HookToolset)
}

func (n *Notes) MutationSource() string {
	return plugin.WidgetSource("Notes", n.instanceID)
}

func (n *Notes) ApplyMutation(payload json.RawMessage) error {
	var m noteMutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("parse notes mutation: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	switch m.Op {
	case "add":
		n.notes = append(n.notes, m.Text)
	case "clear":
		n.notes = nil
	default:
		return fmt.Errorf("unknown notes mutation op: %q", m.Op)
	}
	return nil
}

// List returns a copy of the current notes.
func (n *Notes) List() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notes))
	copy(out, n.notes)
	return out
}

func (n *Notes) Instructions(context.Context, plugin.ReadableThreadState) (string, error) {
	notes := n.List()
	if len(notes) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Your saved notes:\n")
	for i, note := range notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, note)
	}
	return b.String(), nil
}

func (n *Notes) Toolset(context.Context, plugin.ReadableThreadState) (*plugin.Toolset, error) {
	return &plugin.Toolset{Tools: []plugin.Tool{
		{
			Name:        "add_note",
			Description: "Save a short note for yourself. Notes persist across turns and resumes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The note to save.",
					},
				},
				"required": []any{"text"},
			},
			Execute: func(_ context.Context, args map[string]any) (any, error) {
				text, ok := args["text"].(string)
				if !ok || text == "" {
					return nil, fmt.Errorf("'text' parameter must be a non-empty string")
				}
				if err := n.Mutate(noteMutation{Op: "add", Text: text}); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Saved note %d.", len(n.List())), nil
			},
		},
		{
			Name:        "clear_notes",
			Description: "Delete all saved notes.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Execute: func(_ context.Context, _ map[string]any) (any, error) {
				if err := n.Mutate(noteMutation{Op: "clear"}); err != nil {
					return nil, err
				}
				return "All notes cleared.", nil
			},
		},
	}}, nil
}
