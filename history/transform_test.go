// ABOUTME: Tests for log-to-message projection, crash recovery, and deferred resume.
// ABOUTME: Includes the transform idempotence check across an approval pause.

package history_test

import (
	"reflect"
	"testing"

	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/protocol"
)

func userTurn(content string) []protocol.Event {
	return []protocol.Event{
		protocol.UserTurnStart(),
		protocol.UserMessage(content),
		protocol.UserTurnEnd(),
	}
}

func TestGenericSimpleTurn(t *testing.T) {
	events := userTurn("ping")
	events = append(events,
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartStep(),
		protocol.TextComplete("msg_1_text_0", "pong"),
		protocol.FinishStep(&protocol.Usage{TotalTokens: 5}),
		protocol.AgentFinish("a1", "Helper", "msg_1"),
	)

	msgs, err := history.Generic{}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Text() != "ping" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Text() != "pong" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestGenericToolRoundTrip(t *testing.T) {
	events := userTurn("say hi")
	events = append(events,
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartStep(),
		protocol.ToolInputAvailable("call_1", "echo", map[string]any{"s": "hi"}),
		protocol.ToolOutputAvailable("call_1", "echo", "hi"),
		protocol.FinishStep(nil),
		protocol.StartStep(),
		protocol.TextComplete("msg_1_text_0", "it said hi"),
		protocol.FinishStep(nil),
		protocol.AgentFinish("a1", "Helper", "msg_1"),
	)

	msgs, err := history.Generic{}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	// user, assistant(tool call), tool result, assistant(text)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d: %+v", len(msgs), msgs)
	}
	calls := msgs[1].ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "echo" {
		t.Errorf("tool call = %+v", calls)
	}
	if msgs[2].Role != model.RoleTool || msgs[2].Parts[0].Result != "hi" {
		t.Errorf("tool result = %+v", msgs[2])
	}
	if msgs[2].Parts[0].IsError {
		t.Error("successful output marked as error")
	}
}

func TestCrashRecoveryRetryPrompt(t *testing.T) {
	events := userTurn("do it")
	events = append(events,
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartStep(),
		protocol.ToolInputAvailable("call_x", "flaky", map[string]any{}),
		// Crash: no output, no agent-finish.
	)

	msgs, err := history.Generic{}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleTool {
		t.Fatalf("last message = %+v, want synthesized tool result", last)
	}
	part := last.Parts[0]
	if part.ToolCallID != "call_x" || part.Result != history.RetryPrompt || !part.IsError {
		t.Errorf("retry result = %+v", part)
	}
}

func TestApprovalPauseLeavesCallOpen(t *testing.T) {
	events := userTurn("delegate")
	events = append(events,
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartStep(),
		protocol.ToolInputAvailable("call_1", "delegate_task", map[string]any{"task": "x"}),
		protocol.ToolApprovalRequest("appr_1", "call_1"),
		protocol.AgentFinish("a1", "Helper", "msg_1"),
	)

	msgs, err := history.Generic{}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Kind == model.PartToolResult && p.ToolCallID == "call_1" {
				t.Fatal("approval-paused call must not get a synthesized result")
			}
		}
	}
}

func TestTransformIdenticalAcrossApproval(t *testing.T) {
	events := userTurn("delegate")
	events = append(events,
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartStep(),
		protocol.ToolInputAvailable("call_1", "delegate_task", map[string]any{"task": "x"}),
		protocol.ToolApprovalRequest("appr_1", "call_1"),
		protocol.AgentFinish("a1", "Helper", "msg_1"),
	)

	before, err := history.Generic{}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	after, err := history.Generic{}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("projection must be identical before and after approval")
	}

	bundle, err := history.BuildDeferredResults(events, &protocol.UserInput{
		Kind:      protocol.InputKindDeferredTools,
		Approvals: map[string]protocol.ApprovalDecision{"call_1": {Approved: true}},
	})
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}
	if len(bundle.Pending) != 1 {
		t.Fatalf("pending = %+v", bundle.Pending)
	}
	p := bundle.Pending[0]
	if p.ToolCallID != "call_1" || p.ToolName != "delegate_task" || p.ApprovalID != "appr_1" {
		t.Errorf("pending call = %+v", p)
	}
	dec, ok := bundle.Decision("call_1")
	if !ok || !dec.Approved {
		t.Errorf("decision = %+v ok=%v", dec, ok)
	}
}

func TestDeferredRejectsUnknownApproval(t *testing.T) {
	events := userTurn("hi")
	_, err := history.BuildDeferredResults(events, &protocol.UserInput{
		Kind:      protocol.InputKindDeferredTools,
		Approvals: map[string]protocol.ApprovalDecision{"call_ghost": {Approved: true}},
	})
	if err == nil {
		t.Fatal("decision for unknown call must be rejected")
	}
}

func TestDeferredSkipsResolvedCalls(t *testing.T) {
	events := []protocol.Event{
		protocol.ToolInputAvailable("call_1", "echo", map[string]any{"s": "x"}),
		protocol.ToolApprovalRequest("appr_1", "call_1"),
		protocol.ToolOutputAvailable("call_1", "echo", "x"),
	}
	bundle, err := history.BuildDeferredResults(events, &protocol.UserInput{
		Kind:  protocol.InputKindDeferredTools,
		Calls: map[string]any{},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(bundle.Pending) != 0 {
		t.Errorf("resolved call still pending: %+v", bundle.Pending)
	}
}

func TestDuplicateToolInputRejected(t *testing.T) {
	events := []protocol.Event{
		protocol.ToolInputAvailable("call_1", "echo", nil),
		protocol.ToolInputAvailable("call_1", "echo", nil),
	}
	if _, err := (history.Generic{}).Transform(events); err == nil {
		t.Fatal("duplicate tool-input-available must be rejected")
	}
}

func TestMultiAgentPrefixesOtherAgents(t *testing.T) {
	events := userTurn("discuss")
	events = append(events,
		protocol.AgentStart("a1", "Writer", "msg_1"),
		protocol.TextComplete("msg_1_text_0", "draft one"),
		protocol.AgentFinish("a1", "Writer", "msg_1"),
		protocol.AgentStart("a2", "Critic", "msg_2"),
		protocol.TextComplete("msg_2_text_0", "needs work"),
		protocol.AgentFinish("a2", "Critic", "msg_2"),
	)

	msgs, err := history.MultiAgent{PerspectiveAgentID: "a2"}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	var texts []string
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			texts = append(texts, m.Text())
		}
	}
	if len(texts) != 2 {
		t.Fatalf("assistant messages = %v", texts)
	}
	if texts[0] != "(Agent: Writer) – draft one" {
		t.Errorf("other agent text = %q", texts[0])
	}
	if texts[1] != "needs work" {
		t.Errorf("own text must stay unprefixed: %q", texts[1])
	}
}

func TestMultiAgentPreservesToolCalls(t *testing.T) {
	events := []protocol.Event{
		protocol.AgentStart("a1", "Writer", "msg_1"),
		protocol.ToolInputAvailable("call_1", "echo", map[string]any{"s": "x"}),
		protocol.ToolOutputAvailable("call_1", "echo", "x"),
		protocol.AgentFinish("a1", "Writer", "msg_1"),
	}
	msgs, err := history.MultiAgent{PerspectiveAgentID: "a2"}.Transform(events)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	var found bool
	for _, m := range msgs {
		for _, c := range m.ToolCalls() {
			if c.ID == "call_1" && c.Name == "echo" {
				found = true
			}
		}
	}
	if !found {
		t.Error("other agents' tool calls must be preserved verbatim")
	}
}

func TestEmptyTransformer(t *testing.T) {
	msgs, err := history.Empty{}.Transform(userTurn("anything"))
	if err != nil || msgs != nil {
		t.Fatalf("empty transform = %v, %v", msgs, err)
	}
}
