// ABOUTME: ThreadProtocol/VSP event envelope with a "type" discriminator and flat camelCase fields.
// ABOUTME: Provides typed constructors and accessors over an open-world field map.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ThreadProtocolVersion is the log format version this engine reads and writes.
const ThreadProtocolVersion = "0.0.7"

// Event type constants. Delta events never carry threadId on the wire;
// everything else does.
const (
	TypeBlueprint = "thread-blueprint"

	TypeUserTurnStart = "data-user-turn-start"
	TypeUserMessage   = "data-user-message"
	TypeUserTurnEnd   = "data-user-turn-end"

	TypeAgentStart  = "data-agent-start"
	TypeAgentFinish = "data-agent-finish"

	TypeStartStep  = "start-step"
	TypeFinishStep = "finish-step"

	TypeTextStart      = "text-start"
	TypeTextDelta      = "text-delta"
	TypeTextEnd        = "text-end"
	TypeTextComplete   = "text-complete"
	TypeReasoningStart = "reasoning-start"
	TypeReasoningDelta = "reasoning-delta"
	TypeReasoningEnd   = "reasoning-end"
	TypeReasoningComplete = "reasoning-complete"

	TypeToolInputStart       = "tool-input-start"
	TypeToolInputDelta       = "tool-input-delta"
	TypeToolInputAvailable   = "tool-input-available"
	TypeToolOutputAvailable  = "tool-output-available"
	TypeToolError            = "tool-error"
	TypeToolApprovalRequest  = "tool-approval-request"
	TypeToolOutputDenied     = "tool-output-denied"
	TypeToolApprovalResponse = "data-tool-approval-response"

	TypeAppMutation = "data-app-chimera"
	TypeUsage       = "chimera-app-usage"

	TypeStart  = "start"
	TypeFinish = "finish"
	TypeAbort  = "abort"
	TypeError  = "error"
)

// Usage is the token accounting attached to finish-step events.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Event is a single ThreadProtocol or wire event. The Type discriminates the
// shape; all other top-level JSON keys live in Fields. Marshalling is flat:
// {"type": ..., "timestamp": ..., <fields>}.
type Event struct {
	Type   string
	Fields map[string]any
}

// New creates an event of the given type, stamping an ISO-8601 UTC timestamp.
// The fields map is taken over by the event; pass nil for no extra fields.
func New(typ string, fields map[string]any) Event {
	if fields == nil {
		fields = make(map[string]any)
	}
	if _, ok := fields["timestamp"]; !ok {
		fields["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return Event{Type: typ, Fields: fields}
}

// MarshalJSON flattens the event into a single JSON object.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("event has empty type")
	}
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat JSON object into Type + Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	typ, ok := raw["type"].(string)
	if !ok || typ == "" {
		return fmt.Errorf("event missing type field")
	}
	delete(raw, "type")
	e.Type = typ
	e.Fields = raw
	return nil
}

// GetString returns a string field, or "" if absent or not a string.
func (e Event) GetString(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Get returns a raw field value.
func (e Event) Get(key string) any {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[key]
}

// Has reports whether the field is present.
func (e Event) Has(key string) bool {
	_, ok := e.Fields[key]
	return ok
}

// With returns a copy of the event with an extra field set.
func (e Event) With(key string, val any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = val
	return Event{Type: e.Type, Fields: fields}
}

// ID returns the streaming part id ("id" field).
func (e Event) ID() string { return e.GetString("id") }

// ToolCallID returns the tool call id, checking both the tool event key and
// the streaming part key.
func (e Event) ToolCallID() string {
	if s := e.GetString("toolCallId"); s != "" {
		return s
	}
	return e.GetString("id")
}

// ThreadID returns the threadId field if present.
func (e Event) ThreadID() string { return e.GetString("threadId") }

// Transient reports whether the event is marked transient and must not be
// persisted.
func (e Event) Transient() bool {
	b, _ := e.Fields["transient"].(bool)
	return b
}

// IsDelta reports whether the event is a streaming delta. Deltas never carry
// threadId on the wire.
func (e Event) IsDelta() bool {
	switch e.Type {
	case TypeTextDelta, TypeReasoningDelta, TypeToolInputDelta:
		return true
	}
	return false
}

// Data returns the nested "data" object for data-* events, or nil.
func (e Event) Data() map[string]any {
	m, _ := e.Fields["data"].(map[string]any)
	return m
}

// MutationSource returns data.source for data-app-chimera events.
func (e Event) MutationSource() string {
	if d := e.Data(); d != nil {
		s, _ := d["source"].(string)
		return s
	}
	return ""
}

// MutationPayload returns data.payload for data-app-chimera events.
func (e Event) MutationPayload() any {
	if d := e.Data(); d != nil {
		return d["payload"]
	}
	return nil
}

// StepUsage extracts the usage record from a finish-step event.
func (e Event) StepUsage() (Usage, bool) {
	raw, ok := e.Fields["usage"]
	if !ok {
		return Usage{}, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Usage{}, false
	}
	var u Usage
	if err := json.Unmarshal(data, &u); err != nil {
		return Usage{}, false
	}
	return u, true
}

// Typed constructors. These carry the canonical camelCase wire keys.

func TextStart(id string) Event { return New(TypeTextStart, map[string]any{"id": id}) }

func TextDelta(id, delta string) Event {
	return New(TypeTextDelta, map[string]any{"id": id, "delta": delta})
}

func TextEnd(id string) Event { return New(TypeTextEnd, map[string]any{"id": id}) }

func TextComplete(id, content string) Event {
	return New(TypeTextComplete, map[string]any{"id": id, "content": content})
}

func ReasoningStart(id string) Event { return New(TypeReasoningStart, map[string]any{"id": id}) }

func ReasoningDelta(id, delta string) Event {
	return New(TypeReasoningDelta, map[string]any{"id": id, "delta": delta})
}

func ReasoningEnd(id string) Event { return New(TypeReasoningEnd, map[string]any{"id": id}) }

func ReasoningComplete(id, content string) Event {
	return New(TypeReasoningComplete, map[string]any{"id": id, "content": content})
}

func ToolInputStart(toolCallID, toolName string) Event {
	return New(TypeToolInputStart, map[string]any{"toolCallId": toolCallID, "toolName": toolName})
}

func ToolInputDelta(toolCallID, delta string) Event {
	return New(TypeToolInputDelta, map[string]any{"toolCallId": toolCallID, "inputTextDelta": delta})
}

func ToolInputAvailable(toolCallID, toolName string, input any) Event {
	return New(TypeToolInputAvailable, map[string]any{
		"toolCallId": toolCallID,
		"toolName":   toolName,
		"input":      input,
	})
}

func ToolOutputAvailable(toolCallID, toolName string, output any) Event {
	return New(TypeToolOutputAvailable, map[string]any{
		"toolCallId": toolCallID,
		"toolName":   toolName,
		"output":     output,
	})
}

func ToolErrorEvent(toolCallID, toolName, errText string) Event {
	return New(TypeToolError, map[string]any{
		"toolCallId": toolCallID,
		"toolName":   toolName,
		"error":      errText,
	})
}

func ToolApprovalRequest(approvalID, toolCallID string) Event {
	return New(TypeToolApprovalRequest, map[string]any{
		"approvalId": approvalID,
		"toolCallId": toolCallID,
	})
}

func ToolOutputDenied(toolCallID string) Event {
	return New(TypeToolOutputDenied, map[string]any{"toolCallId": toolCallID})
}

func AgentStart(agentID, agentName, messageID string) Event {
	return New(TypeAgentStart, map[string]any{
		"data": map[string]any{"agentId": agentID, "agentName": agentName, "messageId": messageID},
	})
}

func AgentFinish(agentID, agentName, messageID string) Event {
	return New(TypeAgentFinish, map[string]any{
		"data": map[string]any{"agentId": agentID, "agentName": agentName, "messageId": messageID},
	})
}

func UserTurnStart() Event { return New(TypeUserTurnStart, nil) }

func UserMessage(content string) Event {
	return New(TypeUserMessage, map[string]any{"data": map[string]any{"content": content}})
}

func UserTurnEnd() Event { return New(TypeUserTurnEnd, nil) }

func StartStep() Event { return New(TypeStartStep, nil) }

func FinishStep(usage *Usage) Event {
	fields := map[string]any{}
	if usage != nil {
		fields["usage"] = *usage
	}
	return New(TypeFinishStep, fields)
}

func StartMessage(messageID string) Event {
	return New(TypeStart, map[string]any{"messageId": messageID})
}

func FinishMessage() Event { return New(TypeFinish, nil) }

// AppMutation builds a durable plugin state mutation event.
func AppMutation(source string, payload any) Event {
	return New(TypeAppMutation, map[string]any{
		"data": map[string]any{"source": source, "payload": payload},
	})
}

// UsageEvent builds the transient per-message token accounting wire event.
func UsageEvent(messageID string, u Usage) Event {
	return New(TypeUsage, map[string]any{
		"messageId":    messageID,
		"inputTokens":  u.InputTokens,
		"outputTokens": u.OutputTokens,
		"totalTokens":  u.TotalTokens,
		"transient":    true,
	})
}

// ErrorEvent builds a wire error event.
func ErrorEvent(text string) Event {
	return New(TypeError, map[string]any{"errorText": text})
}
