// ABOUTME: Roster space: N agents, one active at a time, switched via a mutation-backed tool.
// ABOUTME: The switch_agent schema is derived per turn so it never offers the active agent.

package space

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/2389-research/chimera/agent"
	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/plugin"
)

// AgentSelectionMutation records one roster handoff.
type AgentSelectionMutation struct {
	NewAgentIdentifier string `json:"newAgentIdentifier"`
	Reason             string `json:"reason,omitempty"`
}

// Roster is the multi-agent space with a persisted active identifier. The
// active agent only ever changes through Mutate or replay.
type Roster struct {
	plugin.Base
	plugin.StatefulCore

	agents  []*agent.Agent
	widgets []plugin.Plugin
	active  string // agent identifier
}

// NewRoster builds a roster space. The initial active agent is the first in
// the blueprint unless cfg["initial"] names another identifier.
func NewRoster(agents []*agent.Agent, widgets []plugin.Plugin, cfg map[string]any) (*Roster, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("roster space requires at least one agent")
	}
	s := &Roster{agents: agents, widgets: widgets, active: agents[0].Identifier}
	if initial, ok := cfg["initial"].(string); ok && initial != "" {
		if s.byIdentifier(initial) == nil {
			return nil, fmt.Errorf("initial agent %q is not in the roster", initial)
		}
		s.active = initial
	}
	s.Init(s)
	return s, nil
}

func (s *Roster) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "roster", Version: "1", InstanceID: "space"}
}

func (s *Roster) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookToolset)
}

func (s *Roster) MutationSource() string { return plugin.SpaceSource("roster") }

// ApplyMutation moves the active identifier. Called from Mutate and from the
// replay sweep.
func (s *Roster) ApplyMutation(payload json.RawMessage) error {
	var m AgentSelectionMutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("decode agent selection: %w", err)
	}
	if s.byIdentifier(m.NewAgentIdentifier) == nil {
		return fmt.Errorf("agent %q is not in the roster", m.NewAgentIdentifier)
	}
	s.active = m.NewAgentIdentifier
	return nil
}

func (s *Roster) Agents() []*agent.Agent { return s.agents }

func (s *Roster) ActiveAgent() (*agent.Agent, error) {
	a := s.byIdentifier(s.active)
	if a == nil {
		return nil, fmt.Errorf("active agent %q is not in the roster", s.active)
	}
	return a, nil
}

func (s *Roster) Transformer() (history.Transformer, error) {
	a, err := s.ActiveAgent()
	if err != nil {
		return nil, err
	}
	return history.MultiAgent{PerspectiveAgentID: a.ID}, nil
}

func (s *Roster) ShouldContinue(_ context.Context, last *agent.TurnResult) Decision {
	// A handoff during the turn means the new agent speaks next.
	if last != nil && !last.Paused() {
		if a, err := s.ActiveAgent(); err == nil && a.ID != last.AgentID {
			return ContinueWith("")
		}
	}
	return Complete()
}

func (s *Roster) TurnPlugins() []plugin.Plugin {
	plugins := []plugin.Plugin{s}
	plugins = append(plugins, s.widgets...)
	if a, err := s.ActiveAgent(); err == nil {
		plugins = append(plugins, a.Widgets...)
	}
	return plugins
}

func (s *Roster) AllPlugins() []plugin.Plugin {
	plugins := []plugin.Plugin{s}
	plugins = append(plugins, s.widgets...)
	for _, a := range s.agents {
		plugins = append(plugins, a.Widgets...)
	}
	return plugins
}

// Toolset contributes switch_agent with an identifier enum built per turn from
// the other agents, so the schema itself forbids a self-switch.
func (s *Roster) Toolset(context.Context, plugin.ReadableThreadState) (*plugin.Toolset, error) {
	others := s.otherIdentifiers()
	if len(others) == 0 {
		return nil, nil
	}

	descriptions := ""
	for _, a := range s.agents {
		if a.Identifier == s.active {
			continue
		}
		descriptions += fmt.Sprintf("\n- %s: %s", a.Identifier, a.Description)
	}

	return &plugin.Toolset{Tools: []plugin.Tool{{
		Name:        "switch_agent",
		Description: "Hand the conversation to another agent. Available agents:" + descriptions,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"identifier": map[string]any{
					"type": "string",
					"enum": others,
				},
				"reason": map[string]any{"type": "string"},
			},
			"required": []string{"identifier"},
		},
		Execute: s.executeSwitch,
	}}}, nil
}

// executeSwitch validates server-side as well; models sometimes ignore enums.
func (s *Roster) executeSwitch(_ context.Context, args map[string]any) (any, error) {
	identifier, _ := args["identifier"].(string)
	reason, _ := args["reason"].(string)

	if identifier == s.active {
		return nil, fmt.Errorf("agent %q is already active", identifier)
	}
	if s.byIdentifier(identifier) == nil {
		return nil, fmt.Errorf("agent %q is not in the roster", identifier)
	}

	if err := s.Mutate(AgentSelectionMutation{NewAgentIdentifier: identifier, Reason: reason}); err != nil {
		return nil, err
	}
	log.Printf("component=space.roster action=switch_agent to=%s reason=%q", identifier, reason)
	return fmt.Sprintf("Switched to agent %q.", identifier), nil
}

func (s *Roster) byIdentifier(identifier string) *agent.Agent {
	for _, a := range s.agents {
		if a.Identifier == identifier {
			return a
		}
	}
	return nil
}

func (s *Roster) otherIdentifiers() []string {
	var out []string
	for _, a := range s.agents {
		if a.Identifier != s.active {
			out = append(out, a.Identifier)
		}
	}
	return out
}
