// ABOUTME: Agent: a hydrated blueprint agent carrying its prompt, model string, and widgets.
// ABOUTME: TurnResult summarizes one finished turn for the space's continuation decision.

package agent

import (
	"fmt"

	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// Agent is one hydrated conversation participant. The base prompt is the sole
// system prompt; ambient plugin instructions go into the user message instead.
type Agent struct {
	ID          string
	Name        string
	Identifier  string
	Description string
	BasePrompt  string
	ModelString string
	Widgets     []plugin.Plugin
	Metadata    map[string]any
}

// FromConfig hydrates an inline agent config. Referenced agents need an
// external catalog and are rejected here.
func FromConfig(cfg protocol.AgentConfig, registry *plugin.Registry) (*Agent, error) {
	if cfg.Kind == protocol.AgentKindReferenced {
		return nil, fmt.Errorf("referenced agent %s requires a catalog; inline agents only", cfg.UUID)
	}

	a := &Agent{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Identifier:  cfg.Identifier,
		Description: cfg.Description,
		BasePrompt:  cfg.BasePrompt,
		ModelString: cfg.ModelString,
		Metadata:    cfg.Metadata,
	}
	if a.ID == "" {
		a.ID = cfg.Identifier
	}
	if a.Name == "" {
		a.Name = cfg.Identifier
	}

	for _, wc := range cfg.Widgets {
		w, err := registry.Build(wc)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", cfg.Identifier, err)
		}
		a.Widgets = append(a.Widgets, w)
	}
	return a, nil
}

// TurnResult is the outcome of one agent turn.
type TurnResult struct {
	AgentID   string
	AgentName string
	MessageID string

	// Text is the concatenated text the agent produced this turn.
	Text string

	// PendingApprovals lists approval ids emitted this turn; non-empty means
	// the turn paused for the user and the thread must not continue.
	PendingApprovals []string

	ToolCalls int
	Usage     protocol.Usage
}

// Paused reports whether the turn ended awaiting human approval.
func (r *TurnResult) Paused() bool { return len(r.PendingApprovals) > 0 }

// Output converts the result to its plugin-facing form.
func (r *TurnResult) Output() *plugin.AgentOutput {
	return &plugin.AgentOutput{
		AgentID:          r.AgentID,
		AgentName:        r.AgentName,
		MessageID:        r.MessageID,
		Text:             r.Text,
		ToolCalls:        r.ToolCalls,
		PendingApprovals: r.PendingApprovals,
	}
}
