// ABOUTME: Message-history transformers: project a ThreadProtocol log slice into model messages.
// ABOUTME: Generic pass-through projection with crash recovery for dangling tool calls.

package history

import (
	"encoding/json"
	"fmt"

	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/protocol"
)

// RetryPrompt is the synthesized tool result for a tool call that has no
// recorded outcome, so the model is never asked to continue from a dangling
// call.
const RetryPrompt = "Tool execution failed during previous run; please try again"

// DeniedResult is the tool result the model sees for a call the user denied.
const DeniedResult = "The user denied this tool call."

// Transformer projects log events into the message history for one model call.
type Transformer interface {
	Transform(events []protocol.Event) ([]model.Message, error)
}

// Owner attributes one projected message to the agent whose turn produced it.
type Owner struct {
	AgentID   string
	AgentName string
}

// Generic is the pass-through transformer: no cross-agent rewriting.
type Generic struct{}

func (Generic) Transform(events []protocol.Event) ([]model.Message, error) {
	msgs, _, err := project(events)
	return msgs, err
}

// Empty returns no history. Used by graph-style spaces whose nodes are
// intentionally stateless.
type Empty struct{}

func (Empty) Transform([]protocol.Event) ([]model.Message, error) {
	return nil, nil
}

// project walks the log once, producing messages plus per-message ownership.
// Step and agent-turn boundaries close any accumulating assistant response;
// tool outcomes open fresh request messages.
func project(events []protocol.Event) ([]model.Message, []Owner, error) {
	var (
		msgs   []model.Message
		owners []Owner

		current      *model.Message
		currentOwner Owner

		inputSeen  = make(map[string]protocol.Event) // toolCallId -> tool-input-available
		inputOrder []string
		resolved   = make(map[string]bool) // has output/denied/error
		approvals  = make(map[string]bool) // has tool-approval-request
		toolNames  = make(map[string]string)
	)

	closeResponse := func() {
		if current == nil {
			return
		}
		msgs = append(msgs, *current)
		owners = append(owners, currentOwner)
		current = nil
	}

	appendMsg := func(m model.Message, o Owner) {
		closeResponse()
		msgs = append(msgs, m)
		owners = append(owners, o)
	}

	ensureResponse := func() *model.Message {
		if current == nil {
			current = &model.Message{Role: model.RoleAssistant}
		}
		return current
	}

	for _, e := range events {
		switch e.Type {
		case protocol.TypeBlueprint, protocol.TypeUserTurnStart, protocol.TypeUserTurnEnd,
			protocol.TypeAppMutation, protocol.TypeToolApprovalResponse:
			// Not part of the model-facing history.

		case protocol.TypeUserMessage:
			content, _ := e.Data()["content"].(string)
			appendMsg(model.TextMessage(model.RoleUser, content), Owner{})

		case protocol.TypeAgentStart:
			closeResponse()
			d := e.Data()
			id, _ := d["agentId"].(string)
			name, _ := d["agentName"].(string)
			currentOwner = Owner{AgentID: id, AgentName: name}

		case protocol.TypeAgentFinish, protocol.TypeStartStep, protocol.TypeFinishStep:
			closeResponse()

		case protocol.TypeTextComplete:
			resp := ensureResponse()
			resp.Parts = append(resp.Parts, model.ContentPart{
				Kind: model.PartText,
				Text: e.GetString("content"),
			})

		case protocol.TypeReasoningComplete:
			resp := ensureResponse()
			resp.Parts = append(resp.Parts, model.ContentPart{
				Kind: model.PartThinking,
				Text: e.GetString("content"),
			})

		case protocol.TypeToolInputAvailable:
			callID := e.ToolCallID()
			if _, dup := inputSeen[callID]; dup {
				return nil, nil, fmt.Errorf("duplicate tool-input-available for %q", callID)
			}
			inputSeen[callID] = e
			inputOrder = append(inputOrder, callID)
			toolNames[callID] = e.GetString("toolName")

			args, _ := e.Get("input").(map[string]any)
			resp := ensureResponse()
			resp.Parts = append(resp.Parts, model.ContentPart{
				Kind: model.PartToolCall,
				Call: &model.ToolCall{ID: callID, Name: e.GetString("toolName"), Arguments: args},
			})

		case protocol.TypeToolOutputAvailable:
			callID := e.ToolCallID()
			resolved[callID] = true
			appendMsg(model.ToolResultMessage(callID, toolNames[callID], stringifyOutput(e.Get("output")), false), Owner{})

		case protocol.TypeToolError:
			callID := e.ToolCallID()
			resolved[callID] = true
			appendMsg(model.ToolResultMessage(callID, toolNames[callID], e.GetString("error"), true), Owner{})

		case protocol.TypeToolOutputDenied:
			callID := e.ToolCallID()
			resolved[callID] = true
			appendMsg(model.ToolResultMessage(callID, toolNames[callID], DeniedResult, true), Owner{})

		case protocol.TypeToolApprovalRequest:
			approvals[e.ToolCallID()] = true
		}
	}
	closeResponse()

	// Crash recovery: dangling calls with no recorded outcome get a retry
	// result. Calls paused for approval are left open; their outcomes arrive
	// through the deferred-results bundle, keeping the projection identical
	// before and after approval.
	for _, callID := range inputOrder {
		if resolved[callID] || approvals[callID] {
			continue
		}
		msgs = append(msgs, model.ToolResultMessage(callID, toolNames[callID], RetryPrompt, true))
		owners = append(owners, Owner{})
	}

	return msgs, owners, nil
}

// stringifyOutput renders a tool output for the model: strings verbatim,
// everything else as JSON.
func stringifyOutput(out any) string {
	if s, ok := out.(string); ok {
		return s
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(data)
}
