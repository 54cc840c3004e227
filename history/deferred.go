// ABOUTME: Deferred-tool resume: pair approval-requested calls from the log with the
// ABOUTME: client's decisions so the next turn resumes exactly at the approval point.

package history

import (
	"fmt"

	"github.com/2389-research/chimera/protocol"
)

// PendingCall is one tool call paused awaiting approval, reconstructed from
// the log.
type PendingCall struct {
	ToolCallID string
	ToolName   string
	Arguments  map[string]any
	ApprovalID string
}

// DeferredToolResults carries the client's decisions for a resume turn. The
// message history stays byte-identical across the pause; only this bundle
// differs.
type DeferredToolResults struct {
	Pending   []PendingCall
	Approvals map[string]protocol.ApprovalDecision
	Calls     map[string]any
}

// Decision returns the client's decision for one call.
func (d *DeferredToolResults) Decision(toolCallID string) (protocol.ApprovalDecision, bool) {
	dec, ok := d.Approvals[toolCallID]
	return dec, ok
}

// BuildDeferredResults scans the log for approval-requested calls lacking an
// outcome and pairs them with the client's deferred_tools input. Decisions
// referencing unknown calls are rejected.
func BuildDeferredResults(events []protocol.Event, input *protocol.UserInput) (*DeferredToolResults, error) {
	if input.Kind != protocol.InputKindDeferredTools {
		return nil, fmt.Errorf("input kind %q is not deferred_tools", input.Kind)
	}

	inputs := make(map[string]protocol.Event)
	approvalIDs := make(map[string]string)
	resolved := make(map[string]bool)
	var order []string

	for _, e := range events {
		switch e.Type {
		case protocol.TypeToolInputAvailable:
			inputs[e.ToolCallID()] = e
		case protocol.TypeToolApprovalRequest:
			callID := e.ToolCallID()
			approvalIDs[callID] = e.GetString("approvalId")
			order = append(order, callID)
		case protocol.TypeToolOutputAvailable, protocol.TypeToolError, protocol.TypeToolOutputDenied:
			resolved[e.ToolCallID()] = true
		}
	}

	bundle := &DeferredToolResults{
		Approvals: input.Approvals,
		Calls:     input.Calls,
	}
	for _, callID := range order {
		if resolved[callID] {
			continue
		}
		in, ok := inputs[callID]
		if !ok {
			return nil, fmt.Errorf("approval request for %q has no tool-input-available", callID)
		}
		args, _ := in.Get("input").(map[string]any)
		bundle.Pending = append(bundle.Pending, PendingCall{
			ToolCallID: callID,
			ToolName:   in.GetString("toolName"),
			Arguments:  args,
			ApprovalID: approvalIDs[callID],
		})
	}

	pending := make(map[string]bool, len(bundle.Pending))
	for _, p := range bundle.Pending {
		pending[p.ToolCallID] = true
	}
	for callID := range input.Approvals {
		if !pending[callID] {
			return nil, fmt.Errorf("approval decision for unknown tool call %q", callID)
		}
	}

	return bundle, nil
}
