// ABOUTME: The turn loop: assemble prompt, history, and tools; stream the model; run tools.
// ABOUTME: Handles approval pauses, denials, usage accounting, and cancellation.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// HaltedMessage is the error text streamed when a thread is cancelled.
const HaltedMessage = "Execution halted by user"

// maxStepsPerTurn bounds tool-use loops within one turn.
const maxStepsPerTurn = 16

// ErrHalted is returned when the turn was cancelled mid-stream.
var ErrHalted = errors.New("turn halted")

// Sinks are the two destinations every turn event fans out to. The stream
// sink sees the raw delta vocabulary; the log sink condenses it.
type Sinks struct {
	Stream func(e protocol.Event) error
	Log    func(e protocol.Event) error
}

// emit sends to the stream and, when durable, to the log. The log writer
// drops brackets and transients itself, so most events go to both.
func (s *Sinks) emit(e protocol.Event) error {
	if err := s.Stream(e); err != nil {
		return err
	}
	return s.Log(e)
}

// TurnRequest carries everything one agent turn needs.
type TurnRequest struct {
	Agent *Agent

	// Prompt is the user's text for the first turn or the space's
	// next-prompt for later ones. Empty on deferred-tool resume.
	Prompt      string
	Attachments []protocol.Attachment

	// Deferred is set when resuming from an approval pause.
	Deferred *history.DeferredToolResults

	// Events is the durable history to project, up to but not including this
	// turn.
	Events      []protocol.Event
	Transformer history.Transformer

	Plugins []plugin.Plugin
	State   plugin.ReadableThreadState

	// ModelOverride is the client-context model, taking precedence over the
	// agent's model string.
	ModelOverride string
}

// Runner executes turns. NewClient is injectable so tests can substitute a
// scripted model.
type Runner struct {
	NewClient func(modelString string) (model.Client, error)
	Sinks     Sinks
}

// RunTurn executes one agent turn end to end. On a clean finish or approval
// pause it returns the result; on cancellation it returns ErrHalted after
// streaming the halt error; transport errors surface without data-agent-finish.
func (r *Runner) RunTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	modelString := req.ModelOverride
	if modelString == "" {
		modelString = req.Agent.ModelString
	}
	client, err := r.NewClient(modelString)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}
	defer func() { _ = client.Close() }()

	toolset, err := r.collectToolset(ctx, req)
	if err != nil {
		return nil, err
	}

	msgs, err := req.Transformer.Transform(req.Events)
	if err != nil {
		return nil, fmt.Errorf("transform history: %w", err)
	}

	convo := append([]model.Message{}, msgs...)

	messageID := NewMessageID()
	result := &TurnResult{
		AgentID:   req.Agent.ID,
		AgentName: req.Agent.Name,
		MessageID: messageID,
	}

	if err := r.Sinks.emit(protocol.StartMessage(messageID)); err != nil {
		return nil, err
	}
	if err := r.Sinks.emit(protocol.AgentStart(req.Agent.ID, req.Agent.Name, messageID)); err != nil {
		return nil, err
	}

	if req.Deferred != nil {
		extra, pending, derr := r.settleDeferred(ctx, req.Deferred, toolset)
		if derr != nil {
			return nil, derr
		}
		convo = append(convo, extra...)
		if len(pending) > 0 {
			// Still awaiting decisions for some calls; pause again.
			result.PendingApprovals = pending
			return r.finishTurn(result)
		}
	} else if userMsg, ok := r.buildUserMessage(ctx, req); ok {
		convo = append(convo, userMsg)
	}

	defs := toolDefinitions(toolset)

	var textParts, reasoningParts int
	for step := 0; step < maxStepsPerTurn; step++ {
		if err := r.Sinks.emit(protocol.StartStep()); err != nil {
			return nil, err
		}

		stepReq := model.Request{
			System:   req.Agent.BasePrompt,
			Messages: convo,
			Tools:    defs,
		}
		events, err := client.Stream(ctx, stepReq)
		if err != nil {
			return nil, r.streamError(fmt.Errorf("model stream: %w", err))
		}

		assistant, usage, err := r.drainStream(ctx, events, messageID, &textParts, &reasoningParts)
		if err != nil {
			return nil, err
		}
		convo = append(convo, *assistant)
		result.Text += assistant.Text()
		if usage != nil {
			result.Usage = result.Usage.Add(*usage)
			if err := r.Sinks.emit(protocol.FinishStep(usage)); err != nil {
				return nil, err
			}
			if err := r.Sinks.Stream(protocol.UsageEvent(messageID, result.Usage)); err != nil {
				return nil, err
			}
		} else {
			if err := r.Sinks.emit(protocol.FinishStep(nil)); err != nil {
				return nil, err
			}
		}

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			break
		}
		result.ToolCalls += len(calls)

		results, pending, err := r.runTools(ctx, calls, toolset)
		if err != nil {
			return nil, err
		}
		convo = append(convo, results...)
		if len(pending) > 0 {
			result.PendingApprovals = pending
			break
		}
	}

	return r.finishTurn(result)
}

func (r *Runner) finishTurn(result *TurnResult) (*TurnResult, error) {
	if err := r.Sinks.emit(protocol.AgentFinish(result.AgentID, result.AgentName, result.MessageID)); err != nil {
		return nil, err
	}
	if err := r.Sinks.emit(protocol.FinishMessage()); err != nil {
		return nil, err
	}
	return result, nil
}

// drainStream consumes one model response, emitting the delta vocabulary and
// accumulating the assistant message.
func (r *Runner) drainStream(ctx context.Context, events <-chan model.StreamEvent, messageID string, textParts, reasoningParts *int) (*model.Message, *protocol.Usage, error) {
	assistant := &model.Message{Role: model.RoleAssistant}
	var usage *protocol.Usage
	var textID, reasoningID string
	var textBuf, reasoningBuf string

	for {
		select {
		case <-ctx.Done():
			return nil, nil, r.halt()

		case e, ok := <-events:
			if !ok {
				return assistant, usage, nil
			}
			switch e.Kind {
			case model.EventTextStart:
				textID = TextPartID(messageID, *textParts)
				*textParts++
				textBuf = ""
				if err := r.Sinks.emit(protocol.TextStart(textID)); err != nil {
					return nil, nil, err
				}
			case model.EventTextDelta:
				textBuf += e.Text
				if err := r.Sinks.emit(protocol.TextDelta(textID, e.Text)); err != nil {
					return nil, nil, err
				}
			case model.EventTextEnd:
				assistant.Parts = append(assistant.Parts, model.ContentPart{Kind: model.PartText, Text: textBuf})
				if err := r.Sinks.emit(protocol.TextEnd(textID)); err != nil {
					return nil, nil, err
				}

			case model.EventThinkingStart:
				reasoningID = ReasoningPartID(messageID, *reasoningParts)
				*reasoningParts++
				reasoningBuf = ""
				if err := r.Sinks.emit(protocol.ReasoningStart(reasoningID)); err != nil {
					return nil, nil, err
				}
			case model.EventThinkingDelta:
				reasoningBuf += e.Text
				if err := r.Sinks.emit(protocol.ReasoningDelta(reasoningID, e.Text)); err != nil {
					return nil, nil, err
				}
			case model.EventThinkingEnd:
				assistant.Parts = append(assistant.Parts, model.ContentPart{Kind: model.PartThinking, Text: reasoningBuf})
				if err := r.Sinks.emit(protocol.ReasoningEnd(reasoningID)); err != nil {
					return nil, nil, err
				}

			case model.EventToolStart:
				if err := r.Sinks.emit(protocol.ToolInputStart(e.ToolCallID, e.ToolName)); err != nil {
					return nil, nil, err
				}
			case model.EventToolDelta:
				if err := r.Sinks.emit(protocol.ToolInputDelta(e.ToolCallID, e.Text)); err != nil {
					return nil, nil, err
				}
			case model.EventToolEnd:
				assistant.Parts = append(assistant.Parts, model.ContentPart{Kind: model.PartToolCall, Call: e.Call})
				if err := r.Sinks.emit(protocol.ToolInputAvailable(e.Call.ID, e.Call.Name, e.Call.Arguments)); err != nil {
					return nil, nil, err
				}

			case model.EventFinish:
				if e.Usage != nil {
					usage = &protocol.Usage{
						InputTokens:  e.Usage.InputTokens,
						OutputTokens: e.Usage.OutputTokens,
						TotalTokens:  e.Usage.TotalTokens,
					}
				}

			case model.EventError:
				if errors.Is(e.Err, context.Canceled) {
					return nil, nil, r.halt()
				}
				return nil, nil, r.streamError(e.Err)
			}
		}
	}
}

// runTools executes the assistant's calls in order. Gated calls become
// approval requests; the rest run immediately.
func (r *Runner) runTools(ctx context.Context, calls []model.ToolCall, toolset *plugin.Toolset) ([]model.Message, []string, error) {
	var results []model.Message
	var pending []string

	for _, call := range calls {
		tool := toolset.Find(call.Name)
		if tool == nil {
			errText := fmt.Sprintf("unknown tool: %q", call.Name)
			if err := r.Sinks.emit(protocol.ToolErrorEvent(call.ID, call.Name, errText)); err != nil {
				return nil, nil, err
			}
			results = append(results, model.ToolResultMessage(call.ID, call.Name, errText, true))
			continue
		}

		if tool.NeedsApproval(call.Arguments) {
			approvalID := NewApprovalID()
			if err := r.Sinks.emit(protocol.ToolApprovalRequest(approvalID, call.ID)); err != nil {
				return nil, nil, err
			}
			pending = append(pending, approvalID)
			continue
		}

		msg, err := r.executeTool(ctx, tool, call.ID, call.Name, call.Arguments)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, msg)
	}
	return results, pending, nil
}

// executeTool runs one call and emits its outcome.
func (r *Runner) executeTool(ctx context.Context, tool *plugin.Tool, callID, name string, args map[string]any) (model.Message, error) {
	out, err := tool.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return model.Message{}, r.halt()
		}
		log.Printf("component=agent.runner action=tool_error tool=%s err=%v", name, err)
		if emitErr := r.Sinks.emit(protocol.ToolErrorEvent(callID, name, err.Error())); emitErr != nil {
			return model.Message{}, emitErr
		}
		return model.ToolResultMessage(callID, name, err.Error(), true), nil
	}
	if emitErr := r.Sinks.emit(protocol.ToolOutputAvailable(callID, name, out)); emitErr != nil {
		return model.Message{}, emitErr
	}
	return model.ToolResultMessage(callID, name, stringify(out), false), nil
}

// settleDeferred resolves the paused calls from a deferred_tools input:
// denials emit tool-output-denied, approvals execute (with any override
// args), external calls inject their results. Calls the client did not
// decide stay pending.
func (r *Runner) settleDeferred(ctx context.Context, deferred *history.DeferredToolResults, toolset *plugin.Toolset) ([]model.Message, []string, error) {
	var extra []model.Message
	var stillPending []string

	for _, p := range deferred.Pending {
		if result, ok := deferred.Calls[p.ToolCallID]; ok {
			if err := r.Sinks.emit(protocol.ToolOutputAvailable(p.ToolCallID, p.ToolName, result)); err != nil {
				return nil, nil, err
			}
			extra = append(extra, model.ToolResultMessage(p.ToolCallID, p.ToolName, stringify(result), false))
			continue
		}

		decision, ok := deferred.Decision(p.ToolCallID)
		if !ok {
			stillPending = append(stillPending, p.ApprovalID)
			continue
		}

		if !decision.Approved {
			if err := r.Sinks.emit(protocol.ToolOutputDenied(p.ToolCallID)); err != nil {
				return nil, nil, err
			}
			denial := history.DeniedResult
			if decision.Message != "" {
				denial = fmt.Sprintf("%s Reason: %s", history.DeniedResult, decision.Message)
			}
			extra = append(extra, model.ToolResultMessage(p.ToolCallID, p.ToolName, denial, true))
			continue
		}

		tool := toolset.Find(p.ToolName)
		if tool == nil {
			errText := fmt.Sprintf("unknown tool: %q", p.ToolName)
			if err := r.Sinks.emit(protocol.ToolErrorEvent(p.ToolCallID, p.ToolName, errText)); err != nil {
				return nil, nil, err
			}
			extra = append(extra, model.ToolResultMessage(p.ToolCallID, p.ToolName, errText, true))
			continue
		}
		args := p.Arguments
		if decision.OverrideArgs != nil {
			args = decision.OverrideArgs
		}
		msg, err := r.executeTool(ctx, tool, p.ToolCallID, p.ToolName, args)
		if err != nil {
			return nil, nil, err
		}
		extra = append(extra, msg)
	}
	return extra, stillPending, nil
}

// buildUserMessage assembles ambient instructions, the raw prompt, and
// attachments, in that order. The base prompt stays the sole system prompt.
// Returns false when there is nothing to say (a continuation turn with no
// next-prompt and no ambient instructions).
func (r *Runner) buildUserMessage(ctx context.Context, req *TurnRequest) (model.Message, bool) {
	text := ""
	for _, p := range providersFor(req.Plugins, plugin.HookInstructions) {
		instr, err := p.Instructions(ctx, req.State)
		if err != nil {
			log.Printf("component=agent.runner action=instructions_failed class=%s err=%v", p.Manifest().ClassName, err)
			continue
		}
		if instr != "" {
			text += instr + "\n\n"
		}
	}
	text += req.Prompt

	if text == "" && len(req.Attachments) == 0 {
		return model.Message{}, false
	}

	msg := model.Message{Role: model.RoleUser}
	if text != "" {
		msg.Parts = append(msg.Parts, model.ContentPart{Kind: model.PartText, Text: text})
	}
	for _, a := range req.Attachments {
		if strings.HasPrefix(a.MediaType, "image/") {
			msg.Parts = append(msg.Parts, model.ImagePart(a.DataURI))
			continue
		}
		// Non-image files have no Chat Completions part type; the model at
		// least learns the file exists.
		msg.Parts = append(msg.Parts, model.ContentPart{Kind: model.PartText, Text: fmt.Sprintf("[attachment: %s (%s)]", a.Filename, a.MediaType)})
	}
	return msg, true
}

func (r *Runner) collectToolset(ctx context.Context, req *TurnRequest) (*plugin.Toolset, error) {
	var sets []*plugin.Toolset
	for _, p := range providersFor(req.Plugins, plugin.HookToolset) {
		set, err := p.Toolset(ctx, req.State)
		if err != nil {
			return nil, fmt.Errorf("toolset from %s: %w", p.Manifest().ClassName, err)
		}
		sets = append(sets, set)
	}
	return plugin.Merge(sets...), nil
}

// halt streams the cancellation error and returns ErrHalted. The driver's
// cleanup closes the writer and places the sentinel.
func (r *Runner) halt() error {
	if err := r.Sinks.Stream(protocol.ErrorEvent(HaltedMessage)); err != nil {
		log.Printf("component=agent.runner action=halt_emit_failed err=%v", err)
	}
	return ErrHalted
}

// streamError surfaces a transport error on the stream and returns it. The
// turn ends without data-agent-finish; the next transform treats dangling
// calls as retry prompts.
func (r *Runner) streamError(err error) error {
	if emitErr := r.Sinks.Stream(protocol.ErrorEvent(err.Error())); emitErr != nil {
		log.Printf("component=agent.runner action=error_emit_failed err=%v", emitErr)
	}
	return err
}

func toolDefinitions(toolset *plugin.Toolset) []model.ToolDefinition {
	if toolset == nil {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(toolset.Tools))
	for _, t := range toolset.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

func providersFor(plugins []plugin.Plugin, hook plugin.Hook) []plugin.Plugin {
	var out []plugin.Plugin
	for _, p := range plugins {
		if p.Hooks().Has(hook) {
			out = append(out, p)
		}
	}
	return out
}

func stringify(out any) string {
	if s, ok := out.(string); ok {
		return s
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(data)
}
