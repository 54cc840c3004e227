// ABOUTME: Tests for space hydration, roster switching, graph advancement, and templating.
// ABOUTME: Verifies mutation replay reproduces the active agent and node position.

package space_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/2389-research/chimera/agent"
	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
	"github.com/2389-research/chimera/space"
	"github.com/google/uuid"
)

func inlineAgent(identifier, name string) protocol.AgentConfig {
	return protocol.AgentConfig{
		Kind:        protocol.AgentKindInline,
		Identifier:  identifier,
		Name:        name,
		Description: name + " does things",
		BasePrompt:  "You are " + name + ".",
	}
}

func blueprint(spaceCfg protocol.SpaceConfig) *protocol.Blueprint {
	return &protocol.Blueprint{
		ThreadID:              uuid.New(),
		BlueprintVersion:      protocol.BlueprintVersion,
		ThreadProtocolVersion: protocol.ThreadProtocolVersion,
		Space:                 spaceCfg,
	}
}

func TestHydrateDefaultSingleAgent(t *testing.T) {
	bp := blueprint(protocol.SpaceConfig{
		Kind:   protocol.SpaceKindDefault,
		Agents: []protocol.AgentConfig{inlineAgent("helper", "Helper")},
	})
	sp, err := space.Hydrate(bp, plugin.NewRegistry())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if _, ok := sp.(*space.Generic); !ok {
		t.Fatalf("expected generic space, got %T", sp)
	}
	a, err := sp.ActiveAgent()
	if err != nil || a.Identifier != "helper" {
		t.Errorf("active = %+v (%v)", a, err)
	}
	tr, err := sp.Transformer()
	if err != nil {
		t.Fatalf("transformer: %v", err)
	}
	if _, ok := tr.(history.Generic); !ok {
		t.Errorf("transformer = %T", tr)
	}
	if d := sp.ShouldContinue(context.Background(), &agent.TurnResult{AgentID: "helper"}); d.Continue {
		t.Error("generic space must complete after one turn")
	}
}

func TestHydrateDefaultMultiAgentIsRoster(t *testing.T) {
	bp := blueprint(protocol.SpaceConfig{
		Kind: protocol.SpaceKindDefault,
		Agents: []protocol.AgentConfig{
			inlineAgent("writer", "Writer"),
			inlineAgent("critic", "Critic"),
		},
	})
	sp, err := space.Hydrate(bp, plugin.NewRegistry())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if _, ok := sp.(*space.Roster); !ok {
		t.Fatalf("expected roster space, got %T", sp)
	}
}

func TestHydrateUnknownClass(t *testing.T) {
	bp := blueprint(protocol.SpaceConfig{
		Kind:      protocol.SpaceKindReferenced,
		ClassName: "mystery",
		Agents:    []protocol.AgentConfig{inlineAgent("a", "A")},
	})
	if _, err := space.Hydrate(bp, plugin.NewRegistry()); err == nil {
		t.Fatal("unknown space class must fail hydration")
	}
}

func rosterSpace(t *testing.T) *space.Roster {
	t.Helper()
	bp := blueprint(protocol.SpaceConfig{
		Kind:      protocol.SpaceKindReferenced,
		ClassName: "roster",
		Agents: []protocol.AgentConfig{
			inlineAgent("writer", "Writer"),
			inlineAgent("critic", "Critic"),
			inlineAgent("editor", "Editor"),
		},
	})
	sp, err := space.Hydrate(bp, plugin.NewRegistry())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return sp.(*space.Roster)
}

func TestRosterSwitchAgentSchemaExcludesActive(t *testing.T) {
	s := rosterSpace(t)

	ts, err := s.Toolset(context.Background(), nil)
	if err != nil {
		t.Fatalf("toolset: %v", err)
	}
	tool := ts.Find("switch_agent")
	if tool == nil {
		t.Fatal("switch_agent missing")
	}
	props := tool.Parameters["properties"].(map[string]any)
	enum := props["identifier"].(map[string]any)["enum"].([]string)
	for _, id := range enum {
		if id == "writer" {
			t.Error("active agent must not appear in the enum")
		}
	}
	if len(enum) != 2 {
		t.Errorf("enum = %v", enum)
	}
}

func TestRosterSwitchPersistsAndApplies(t *testing.T) {
	s := rosterSpace(t)

	var logged []protocol.Event
	space.BindEmitters(s, func(e protocol.Event) error {
		logged = append(logged, e)
		return nil
	})

	ts, _ := s.Toolset(context.Background(), nil)
	tool := ts.Find("switch_agent")
	out, err := tool.Execute(context.Background(), map[string]any{"identifier": "critic", "reason": "review"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out == nil {
		t.Fatal("switch produced no output")
	}

	a, err := s.ActiveAgent()
	if err != nil || a.Identifier != "critic" {
		t.Errorf("active = %+v (%v)", a, err)
	}
	if len(logged) != 1 || logged[0].Type != protocol.TypeAppMutation {
		t.Fatalf("logged = %+v", logged)
	}
	if logged[0].MutationSource() != "space:roster" {
		t.Errorf("source = %q", logged[0].MutationSource())
	}
}

func TestRosterRejectsSelfSwitch(t *testing.T) {
	s := rosterSpace(t)
	space.BindEmitters(s, func(protocol.Event) error { return nil })

	ts, _ := s.Toolset(context.Background(), nil)
	tool := ts.Find("switch_agent")
	if _, err := tool.Execute(context.Background(), map[string]any{"identifier": "writer"}); err == nil {
		t.Fatal("switching to the active agent must fail")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"identifier": "ghost"}); err == nil {
		t.Fatal("switching to an unknown agent must fail")
	}
}

func TestRosterReplayReproducesActiveAgent(t *testing.T) {
	live := rosterSpace(t)
	var events []protocol.Event
	space.BindEmitters(live, func(e protocol.Event) error {
		events = append(events, e)
		return nil
	})

	ts, _ := live.Toolset(context.Background(), nil)
	if _, err := ts.Find("switch_agent").Execute(context.Background(), map[string]any{"identifier": "editor"}); err != nil {
		t.Fatalf("switch: %v", err)
	}

	replayed := rosterSpace(t)
	if err := space.ReplayMutations(replayed, events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	liveActive, _ := live.ActiveAgent()
	replayedActive, _ := replayed.ActiveAgent()
	if liveActive.Identifier != replayedActive.Identifier {
		t.Errorf("replayed active %q != live active %q", replayedActive.Identifier, liveActive.Identifier)
	}
}

func TestRosterContinuesAfterHandoff(t *testing.T) {
	s := rosterSpace(t)
	space.BindEmitters(s, func(protocol.Event) error { return nil })

	writer, _ := s.ActiveAgent()
	ts, _ := s.Toolset(context.Background(), nil)
	if _, err := ts.Find("switch_agent").Execute(context.Background(), map[string]any{"identifier": "critic"}); err != nil {
		t.Fatalf("switch: %v", err)
	}

	d := s.ShouldContinue(context.Background(), &agent.TurnResult{AgentID: writer.ID})
	if !d.Continue {
		t.Error("handoff mid-turn must continue with the new agent")
	}

	critic, _ := s.ActiveAgent()
	d = s.ShouldContinue(context.Background(), &agent.TurnResult{AgentID: critic.ID})
	if d.Continue {
		t.Error("no handoff means the thread completes")
	}
}

func graphConfig() map[string]any {
	nodes := []space.GraphNode{
		{Name: "draft", Instructions: "Write a draft about the topic."},
		{Name: "review", Instructions: "Review this draft: {output}"},
		{Name: "title", Instructions: "Title it using {output.headline}"},
	}
	data, _ := json.Marshal(nodes)
	var raw []any
	_ = json.Unmarshal(data, &raw)
	return map[string]any{"nodes": raw}
}

func TestGraphAdvancesThroughNodes(t *testing.T) {
	bp := blueprint(protocol.SpaceConfig{
		Kind:      protocol.SpaceKindReferenced,
		ClassName: "graph",
		Config:    graphConfig(),
		Agents:    []protocol.AgentConfig{inlineAgent("worker", "Worker")},
	})
	sp, err := space.Hydrate(bp, plugin.NewRegistry())
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	g := sp.(*space.Graph)

	var events []protocol.Event
	space.BindEmitters(g, func(e protocol.Event) error {
		events = append(events, e)
		return nil
	})

	instr, err := g.Instructions(context.Background(), nil)
	if err != nil || instr != "Write a draft about the topic." {
		t.Errorf("node 0 instructions = %q (%v)", instr, err)
	}

	d := g.ShouldContinue(context.Background(), &agent.TurnResult{Text: "the draft body"})
	if !d.Continue {
		t.Fatal("pipeline must continue to node 1")
	}
	if d.NextPrompt != "Review this draft: the draft body" {
		t.Errorf("next prompt = %q", d.NextPrompt)
	}

	instr, _ = g.Instructions(context.Background(), nil)
	if instr != "" {
		t.Errorf("later nodes must not double-inject instructions, got %q", instr)
	}

	d = g.ShouldContinue(context.Background(), &agent.TurnResult{Text: `{"headline":"Big News"}`})
	if !d.Continue || d.NextPrompt != "Title it using Big News" {
		t.Errorf("decision = %+v", d)
	}

	d = g.ShouldContinue(context.Background(), &agent.TurnResult{Text: "done"})
	if d.Continue {
		t.Error("pipeline must complete after the last node")
	}

	if len(events) != 2 {
		t.Fatalf("advance mutations = %d, want 2", len(events))
	}

	// Replay reproduces the node position.
	sp2, _ := space.Hydrate(bp, plugin.NewRegistry())
	g2 := sp2.(*space.Graph)
	if err := space.ReplayMutations(g2, events); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if g2.Node().Name != "title" {
		t.Errorf("replayed node = %q, want title", g2.Node().Name)
	}
}

func TestRenderTemplate(t *testing.T) {
	cases := []struct {
		template string
		output   string
		want     string
	}{
		{"plain text", "x", "plain text"},
		{"use {output} here", "VALUE", "use VALUE here"},
		{"field: {output.name}", `{"name":"Ada"}`, "field: Ada"},
		{"num: {output.n}", `{"n":7}`, "num: 7"},
		{"missing: {output.nope}", `{"name":"Ada"}`, "missing: {output.nope}"},
		{"not json: {output.x}", "plain", "not json: {output.x}"},
	}
	for _, tc := range cases {
		if got := space.RenderTemplate(tc.template, tc.output); got != tc.want {
			t.Errorf("RenderTemplate(%q, %q) = %q, want %q", tc.template, tc.output, got, tc.want)
		}
	}
}

func TestProvidersFor(t *testing.T) {
	s := rosterSpace(t)
	providers := space.ProvidersFor(s.TurnPlugins(), plugin.HookToolset)
	if len(providers) != 1 {
		t.Fatalf("providers = %d, want 1 (the roster itself)", len(providers))
	}
	if len(space.ProvidersFor(s.TurnPlugins(), plugin.HookOnUserInput)) != 0 {
		t.Error("no plugin declares on_user_input here")
	}
}
