// ABOUTME: Graph space: a fixed node pipeline, one node per turn, outputs templated forward.
// ABOUTME: Node position is persisted as a mutation so resumed threads continue mid-pipeline.

package space

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"

	"github.com/2389-research/chimera/agent"
	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/plugin"
)

// GraphNode is one pipeline stage. Instructions may reference the previous
// node's output as {output} or {output.field}.
type GraphNode struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	OutputType   string `json:"outputType,omitempty"` // "text" or "json"
	TimeoutSecs  int    `json:"timeoutSecs,omitempty"`
}

// GraphAdvanceMutation records moving to the next node.
type GraphAdvanceMutation struct {
	NodeIndex int `json:"nodeIndex"`
}

// Graph executes its nodes in order, one per turn, against a single agent.
// History is intentionally empty: each node sees only its rendered prompt.
type Graph struct {
	plugin.Base
	plugin.StatefulCore

	agent   *agent.Agent
	widgets []plugin.Plugin
	nodes   []GraphNode
	index   int
}

// NewGraph builds a graph space from cfg["nodes"].
func NewGraph(a *agent.Agent, widgets []plugin.Plugin, cfg map[string]any) (*Graph, error) {
	if a == nil {
		return nil, fmt.Errorf("graph space requires an agent")
	}
	raw, ok := cfg["nodes"]
	if !ok {
		return nil, fmt.Errorf("graph space config missing nodes")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("reshape graph nodes: %w", err)
	}
	var nodes []GraphNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse graph nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("graph space requires at least one node")
	}
	s := &Graph{agent: a, widgets: widgets, nodes: nodes}
	s.Init(s)
	return s, nil
}

func (s *Graph) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "graph", Version: "1", InstanceID: "space"}
}

func (s *Graph) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookInstructions)
}

func (s *Graph) MutationSource() string { return plugin.SpaceSource("graph") }

func (s *Graph) ApplyMutation(payload json.RawMessage) error {
	var m GraphAdvanceMutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("decode graph advance: %w", err)
	}
	if m.NodeIndex < 0 || m.NodeIndex >= len(s.nodes) {
		return fmt.Errorf("node index %d out of range", m.NodeIndex)
	}
	s.index = m.NodeIndex
	return nil
}

func (s *Graph) Agents() []*agent.Agent { return []*agent.Agent{s.agent} }

func (s *Graph) ActiveAgent() (*agent.Agent, error) { return s.agent, nil }

func (s *Graph) Transformer() (history.Transformer, error) { return history.Empty{}, nil }

// Node returns the pipeline stage the next turn will execute.
func (s *Graph) Node() GraphNode { return s.nodes[s.index] }

// Instructions supplies the first node's prompt; later nodes arrive through
// the continuation decision's rendered prompt instead.
func (s *Graph) Instructions(context.Context, plugin.ReadableThreadState) (string, error) {
	if s.index == 0 {
		return s.nodes[0].Instructions, nil
	}
	return "", nil
}

// ShouldContinue advances to the next node, templating the previous output
// into its instructions. The pipeline completes after the last node.
func (s *Graph) ShouldContinue(_ context.Context, last *agent.TurnResult) Decision {
	if last == nil || last.Paused() {
		return Complete()
	}
	next := s.index + 1
	if next >= len(s.nodes) {
		return Complete()
	}
	if err := s.Mutate(GraphAdvanceMutation{NodeIndex: next}); err != nil {
		log.Printf("component=space.graph action=advance_failed node=%d err=%v", next, err)
		return Complete()
	}
	return ContinueWith(RenderTemplate(s.nodes[next].Instructions, last.Text))
}

func (s *Graph) TurnPlugins() []plugin.Plugin {
	plugins := []plugin.Plugin{s}
	plugins = append(plugins, s.widgets...)
	plugins = append(plugins, s.agent.Widgets...)
	return plugins
}

func (s *Graph) AllPlugins() []plugin.Plugin { return s.TurnPlugins() }

var templateRef = regexp.MustCompile(`\{output(?:\.([A-Za-z0-9_]+))?\}`)

// RenderTemplate substitutes {output} with the previous node's full output and
// {output.field} with a field of it parsed as JSON. Unresolvable references
// are left in place.
func RenderTemplate(template, output string) string {
	return templateRef.ReplaceAllStringFunc(template, func(ref string) string {
		m := templateRef.FindStringSubmatch(ref)
		if m[1] == "" {
			return output
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(output), &doc); err != nil {
			return ref
		}
		val, ok := doc[m[1]]
		if !ok {
			return ref
		}
		if s, isStr := val.(string); isStr {
			return s
		}
		data, err := json.Marshal(val)
		if err != nil {
			return ref
		}
		return string(data)
	})
}
