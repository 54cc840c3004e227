// ABOUTME: Blueprint hydration: build the space, its agents, and their widgets, then
// ABOUTME: replay recorded mutations so resumed threads pick up exactly where they left off.

package space

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/2389-research/chimera/agent"
	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// Hydrate builds the space described by the blueprint. Default blueprints get
// a generic space for one agent and a roster for several; referenced
// blueprints select the archetype by class name.
func Hydrate(bp *protocol.Blueprint, registry *plugin.Registry) (Space, error) {
	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid blueprint: %w", err)
	}

	agents := make([]*agent.Agent, 0, len(bp.Space.Agents))
	for _, ac := range bp.Space.Agents {
		a, err := agent.FromConfig(ac, registry)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	var widgets []plugin.Plugin
	for _, wc := range bp.Space.Widgets {
		w, err := registry.Build(wc)
		if err != nil {
			return nil, err
		}
		widgets = append(widgets, w)
	}

	switch bp.Space.Kind {
	case protocol.SpaceKindDefault:
		if len(agents) == 1 {
			return NewGeneric(agents[0], widgets)
		}
		return NewRoster(agents, widgets, nil)

	case protocol.SpaceKindReferenced:
		switch bp.Space.ClassName {
		case "generic":
			if len(agents) != 1 {
				return nil, fmt.Errorf("generic space requires exactly one agent, got %d", len(agents))
			}
			return NewGeneric(agents[0], widgets)
		case "roster":
			return NewRoster(agents, widgets, bp.Space.Config)
		case "graph":
			if len(agents) != 1 {
				return nil, fmt.Errorf("graph space requires exactly one agent, got %d", len(agents))
			}
			return NewGraph(agents[0], widgets, bp.Space.Config)
		default:
			return nil, fmt.Errorf("unknown space class: %q", bp.Space.ClassName)
		}

	default:
		return nil, fmt.Errorf("unknown space kind: %q", bp.Space.Kind)
	}
}

// ReplayMutations applies every recorded data-app-chimera event to the
// stateful plugin whose source matches, in log order. Mutations whose source
// matches no live plugin are logged and skipped.
func ReplayMutations(sp Space, events []protocol.Event) error {
	statefuls := make(map[string]plugin.Stateful)
	for _, p := range sp.AllPlugins() {
		if s, ok := p.(plugin.Stateful); ok {
			statefuls[s.MutationSource()] = s
		}
	}

	for _, e := range events {
		if e.Type != protocol.TypeAppMutation {
			continue
		}
		source := e.MutationSource()
		s, ok := statefuls[source]
		if !ok {
			log.Printf("component=space.hydrate action=skip_unmatched_mutation source=%s", source)
			continue
		}
		payload, err := json.Marshal(e.MutationPayload())
		if err != nil {
			return fmt.Errorf("reshape mutation payload for %s: %w", source, err)
		}
		if err := s.ApplyMutation(payload); err != nil {
			return fmt.Errorf("replay mutation for %s: %w", source, err)
		}
	}
	return nil
}

// BindEmitters wires the durable-event emitter into every stateful plugin so
// Mutate can persist before applying.
func BindEmitters(sp Space, emit func(e protocol.Event) error) {
	for _, p := range sp.AllPlugins() {
		if _, ok := p.(plugin.Stateful); !ok {
			continue
		}
		core, ok := p.(interface {
			BindEmitter(func(source string, payload json.RawMessage) error)
		})
		if !ok {
			continue
		}
		core.BindEmitter(func(source string, payload json.RawMessage) error {
			var val any
			if err := json.Unmarshal(payload, &val); err != nil {
				return err
			}
			return emit(protocol.AppMutation(source, val))
		})
	}
}
