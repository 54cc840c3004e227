// ABOUTME: Tests for the event envelope: flat marshalling, accessors, threadId handling.
// ABOUTME: Exercises the delta classification and transient flag used by the stream splitter.
package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/2389-research/chimera/protocol"
)

func TestEventMarshalFlat(t *testing.T) {
	e := protocol.TextDelta("t1", "hi")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != "text-delta" || raw["id"] != "t1" || raw["delta"] != "hi" {
		t.Errorf("flat fields wrong: %v", raw)
	}
	if _, ok := raw["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
	if _, ok := raw["Fields"]; ok {
		t.Error("marshalling must be flat, found nested Fields key")
	}
}

func TestEventRoundTrip(t *testing.T) {
	line := `{"type":"tool-output-available","toolCallId":"call_1","toolName":"echo","output":{"ok":true}}`
	var e protocol.Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != protocol.TypeToolOutputAvailable {
		t.Fatalf("type = %s", e.Type)
	}
	if e.ToolCallID() != "call_1" {
		t.Errorf("toolCallId = %q", e.ToolCallID())
	}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if !strings.Contains(string(out), `"toolCallId":"call_1"`) {
		t.Errorf("round trip lost fields: %s", out)
	}
}

func TestEventUnmarshalRejectsMissingType(t *testing.T) {
	var e protocol.Event
	if err := json.Unmarshal([]byte(`{"id":"x"}`), &e); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestEventWithDoesNotMutateOriginal(t *testing.T) {
	orig := protocol.TextEnd("t1")
	tagged := orig.With("threadId", "thread-123")
	if orig.Has("threadId") {
		t.Error("With must copy, original was mutated")
	}
	if tagged.ThreadID() != "thread-123" {
		t.Errorf("threadId = %q", tagged.ThreadID())
	}
}

func TestEventIsDelta(t *testing.T) {
	deltas := []protocol.Event{
		protocol.TextDelta("a", "x"),
		protocol.ReasoningDelta("a", "x"),
		protocol.ToolInputDelta("a", "x"),
	}
	for _, e := range deltas {
		if !e.IsDelta() {
			t.Errorf("%s should be a delta", e.Type)
		}
	}
	boundaries := []protocol.Event{
		protocol.TextStart("a"),
		protocol.TextEnd("a"),
		protocol.ToolInputAvailable("a", "echo", nil),
		protocol.AgentStart("a1", "Helper", "msg_1"),
	}
	for _, e := range boundaries {
		if e.IsDelta() {
			t.Errorf("%s should not be a delta", e.Type)
		}
	}
}

func TestUsageEventIsTransient(t *testing.T) {
	e := protocol.UsageEvent("msg_1", protocol.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3})
	if !e.Transient() {
		t.Fatal("usage events must be transient")
	}
	if protocol.FinishStep(&protocol.Usage{TotalTokens: 3}).Transient() {
		t.Fatal("finish-step is durable")
	}
}

func TestStepUsage(t *testing.T) {
	e := protocol.FinishStep(&protocol.Usage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10})
	u, ok := e.StepUsage()
	if !ok {
		t.Fatal("usage not found")
	}
	if u.InputTokens != 7 || u.OutputTokens != 3 || u.TotalTokens != 10 {
		t.Errorf("usage = %+v", u)
	}
	if _, ok := protocol.StartStep().StepUsage(); ok {
		t.Error("start-step carries no usage")
	}
}

func TestMutationAccessors(t *testing.T) {
	e := protocol.AppMutation("notes-1", map[string]any{"op": "add", "text": "x"})
	if e.MutationSource() != "notes-1" {
		t.Errorf("source = %q", e.MutationSource())
	}
	payload, ok := e.MutationPayload().(map[string]any)
	if !ok || payload["op"] != "add" {
		t.Errorf("payload = %v", e.MutationPayload())
	}
}
