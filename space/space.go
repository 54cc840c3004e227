// ABOUTME: Space orchestrator contract plus the single-agent Generic archetype.
// ABOUTME: A space owns its agents, the transformer choice, and the continuation decision.

package space

import (
	"context"
	"fmt"

	"github.com/2389-research/chimera/agent"
	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/plugin"
)

// Decision is a space's answer to "run another turn?".
type Decision struct {
	Continue   bool
	NextPrompt string
}

// Complete ends the drive loop.
func Complete() Decision { return Decision{} }

// ContinueWith runs another turn seeded with the given prompt.
func ContinueWith(prompt string) Decision {
	return Decision{Continue: true, NextPrompt: prompt}
}

// Space is a plugin and an execution environment. It owns the agent roster,
// picks the active agent each turn, chooses the history transformer, and
// decides continuation.
type Space interface {
	plugin.Plugin

	Agents() []*agent.Agent
	ActiveAgent() (*agent.Agent, error)

	// Transformer projects the log for the active agent's perspective.
	Transformer() (history.Transformer, error)

	// ShouldContinue is consulted after each turn.
	ShouldContinue(ctx context.Context, last *agent.TurnResult) Decision

	// TurnPlugins aggregates, in order: the space itself, space widgets, and
	// the active agent's widgets. Consulted every turn.
	TurnPlugins() []plugin.Plugin

	// AllPlugins additionally includes every inactive agent's widgets. Used
	// for mutation replay at hydration.
	AllPlugins() []plugin.Plugin
}

// ProvidersFor pre-filters plugins to those declaring the hook, so hot paths
// never call base no-ops.
func ProvidersFor(plugins []plugin.Plugin, hook plugin.Hook) []plugin.Plugin {
	var out []plugin.Plugin
	for _, p := range plugins {
		if p.Hooks().Has(hook) {
			out = append(out, p)
		}
	}
	return out
}

// Generic is the single-agent space: generic transformer, one turn per user
// message.
type Generic struct {
	plugin.Base
	agent   *agent.Agent
	widgets []plugin.Plugin
}

// NewGeneric builds a generic space around exactly one agent.
func NewGeneric(a *agent.Agent, widgets []plugin.Plugin) (*Generic, error) {
	if a == nil {
		return nil, fmt.Errorf("generic space requires exactly one agent")
	}
	return &Generic{agent: a, widgets: widgets}, nil
}

func (s *Generic) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "generic", Version: "1", InstanceID: "space"}
}

func (s *Generic) Agents() []*agent.Agent { return []*agent.Agent{s.agent} }

func (s *Generic) ActiveAgent() (*agent.Agent, error) { return s.agent, nil }

func (s *Generic) Transformer() (history.Transformer, error) { return history.Generic{}, nil }

func (s *Generic) ShouldContinue(context.Context, *agent.TurnResult) Decision {
	return Complete()
}

func (s *Generic) TurnPlugins() []plugin.Plugin {
	plugins := []plugin.Plugin{s}
	plugins = append(plugins, s.widgets...)
	plugins = append(plugins, s.agent.Widgets...)
	return plugins
}

func (s *Generic) AllPlugins() []plugin.Plugin { return s.TurnPlugins() }
