// ABOUTME: Tests for hook sets, toolset merging, and the stateful mutation discipline.
// ABOUTME: Verifies save-then-apply ordering and replay equivalence for a counter plugin.

package plugin_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// counterWidget tracks a running total, changed only through mutations.
type counterWidget struct {
	plugin.Base
	plugin.StatefulCore
	instanceID string
	total      int
}

type counterMutation struct {
	Delta int `json:"delta"`
}

func newCounterWidget(instanceID string) *counterWidget {
	w := &counterWidget{instanceID: instanceID}
	w.Init(w)
	return w
}

func (w *counterWidget) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "Counter", Version: "1", InstanceID: w.instanceID}
}

func (w *counterWidget) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookInstructions)
}

func (w *counterWidget) MutationSource() string {
	return plugin.WidgetSource("Counter", w.instanceID)
}

func (w *counterWidget) ApplyMutation(payload json.RawMessage) error {
	var m counterMutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	w.total += m.Delta
	return nil
}

func (w *counterWidget) Add(delta int) error {
	return w.Mutate(counterMutation{Delta: delta})
}

func TestMutateSavesBeforeApplying(t *testing.T) {
	w := newCounterWidget("c1")

	var saved []json.RawMessage
	w.BindEmitter(func(source string, payload json.RawMessage) error {
		if w.total != 0 && len(saved) == 0 {
			t.Error("state applied before the mutation was saved")
		}
		if source != "widget:Counter:c1" {
			t.Errorf("source = %q", source)
		}
		saved = append(saved, payload)
		return nil
	})

	if err := w.Add(3); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := w.Add(4); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if w.total != 7 {
		t.Errorf("total = %d, want 7", w.total)
	}
	if len(saved) != 2 {
		t.Fatalf("saved %d mutations, want 2", len(saved))
	}
}

func TestMutateFailsWithoutEmitter(t *testing.T) {
	w := newCounterWidget("c1")
	if err := w.Add(1); err == nil {
		t.Fatal("mutate without a bound emitter must fail")
	}
	if w.total != 0 {
		t.Errorf("state changed despite failed save: %d", w.total)
	}
}

func TestMutateDoesNotApplyOnSaveFailure(t *testing.T) {
	w := newCounterWidget("c1")
	w.BindEmitter(func(string, json.RawMessage) error {
		return fmt.Errorf("disk full")
	})
	if err := w.Add(1); err == nil {
		t.Fatal("expected save error to propagate")
	}
	if w.total != 0 {
		t.Errorf("state changed despite failed save: %d", w.total)
	}
}

func TestReplayEquivalence(t *testing.T) {
	// Live plugin accumulating mutations.
	live := newCounterWidget("c1")
	var log []json.RawMessage
	live.BindEmitter(func(_ string, payload json.RawMessage) error {
		log = append(log, payload)
		return nil
	})
	for _, d := range []int{5, -2, 9} {
		if err := live.Add(d); err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}

	// Fresh plugin replaying the recorded mutations.
	replayed := newCounterWidget("c1")
	for _, payload := range log {
		if err := replayed.ApplyMutation(payload); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if replayed.total != live.total {
		t.Errorf("replayed state %d != live state %d", replayed.total, live.total)
	}
}

func TestHookSet(t *testing.T) {
	w := newCounterWidget("c1")
	hooks := w.Hooks()
	if !hooks.Has(plugin.HookInstructions) {
		t.Error("instructions hook should be declared")
	}
	if hooks.Has(plugin.HookToolset) {
		t.Error("toolset hook should not be declared")
	}
}

func TestToolsetMergeDeduplicates(t *testing.T) {
	a := &plugin.Toolset{Tools: []plugin.Tool{
		{Name: "echo"},
		{Name: "notes_add"},
	}}
	b := &plugin.Toolset{Tools: []plugin.Tool{
		{Name: "echo", Description: "shadowed duplicate"},
		{Name: "clock"},
	}}

	merged := plugin.Merge(a, nil, b)
	if len(merged.Tools) != 3 {
		t.Fatalf("merged %d tools, want 3", len(merged.Tools))
	}
	if merged.Tools[0].Name != "echo" || merged.Tools[0].Description != "" {
		t.Errorf("first definition must win: %+v", merged.Tools[0])
	}
	if merged.Find("clock") == nil {
		t.Error("clock missing after merge")
	}
	if merged.Find("ghost") != nil {
		t.Error("unknown tool found")
	}
}

func TestToolNeedsApproval(t *testing.T) {
	unguarded := plugin.Tool{Name: "echo"}
	if unguarded.NeedsApproval(nil) {
		t.Error("tool without a gate must not require approval")
	}
	guarded := plugin.Tool{
		Name: "delegate_task",
		RequiresApproval: func(args map[string]any) bool {
			return true
		},
	}
	if !guarded.NeedsApproval(map[string]any{"x": 1}) {
		t.Error("gated tool must require approval")
	}
}

func TestRegistryBuild(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register("Counter", func(cfg protocol.ComponentConfig) (plugin.Plugin, error) {
		return newCounterWidget(cfg.InstanceID), nil
	})

	p, err := reg.Build(protocol.ComponentConfig{ClassName: "Counter", InstanceID: "c9"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Manifest().InstanceID != "c9" {
		t.Errorf("instanceId = %q", p.Manifest().InstanceID)
	}

	if _, err := reg.Build(protocol.ComponentConfig{ClassName: "Ghost"}); err == nil {
		t.Error("unknown class must fail")
	}

	classes := reg.Classes()
	if len(classes) != 1 || classes[0] != "Counter" {
		t.Errorf("classes = %v", classes)
	}
}

// Base must satisfy the full interface so widgets only override declared hooks.
func TestBaseIsNoOp(t *testing.T) {
	w := newCounterWidget("c1")
	if _, err := w.OnUserInput(context.Background(), &protocol.UserInput{}, nil); err != nil {
		t.Errorf("OnUserInput: %v", err)
	}
	if _, err := w.Toolset(context.Background(), nil); err != nil {
		t.Errorf("Toolset: %v", err)
	}
	if _, err := w.OnAgentOutput(context.Background(), &plugin.AgentOutput{}, nil); err != nil {
		t.Errorf("OnAgentOutput: %v", err)
	}
}
