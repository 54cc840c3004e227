// ABOUTME: Provider-neutral chat types: messages, content parts, tool definitions, stream events.
// ABOUTME: The history transformer produces these; provider adapters consume them.

package model

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part kinds inside a message.
const (
	PartText       = "text"
	PartThinking   = "thinking"
	PartImage      = "image"
	PartToolCall   = "tool_call"
	PartToolResult = "tool_result"
)

// ToolCall is an assistant's request to run one tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ContentPart is one block of a message. Kind selects which fields are set.
type ContentPart struct {
	Kind string

	Text string // text, thinking

	ImageURL string // image: an https URL or data URI

	Call *ToolCall // tool_call

	// tool_result
	ToolCallID string
	ToolName   string
	Result     string
	IsError    bool
}

// Message is one entry of a provider-neutral conversation.
type Message struct {
	Role  Role
	Parts []ContentPart
}

// TextMessage builds a single-part message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Kind: PartText, Text: text}}}
}

// ImagePart builds an image content part from a URL or data URI.
func ImagePart(url string) ContentPart {
	return ContentPart{Kind: PartImage, ImageURL: url}
}

// ToolResultMessage builds a tool-result message for one call.
func ToolResultMessage(callID, toolName, result string, isErr bool) Message {
	return Message{Role: RoleTool, Parts: []ContentPart{{
		Kind:       PartToolResult,
		ToolCallID: callID,
		ToolName:   toolName,
		Result:     result,
		IsError:    isErr,
	}}}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool_call parts of the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Kind == PartToolCall && p.Call != nil {
			calls = append(calls, *p.Call)
		}
	}
	return calls
}

// ToolDefinition describes one callable tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// Usage is the provider-reported token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request is one completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// Stream event kinds.
const (
	EventTextStart = "text_start"
	EventTextDelta = "text_delta"
	EventTextEnd   = "text_end"

	EventThinkingStart = "thinking_start"
	EventThinkingDelta = "thinking_delta"
	EventThinkingEnd   = "thinking_end"

	EventToolStart = "tool_start"
	EventToolDelta = "tool_delta"
	EventToolEnd   = "tool_end"

	EventFinish = "finish"
	EventError  = "error"
)

// StreamEvent is one element of a completion stream. Kind selects which
// fields are populated: Text for deltas, Call for tool_end, Usage for finish.
type StreamEvent struct {
	Kind string

	Text string

	ToolCallID string
	ToolName   string
	Call       *ToolCall

	Usage *Usage
	Err   error
}

// Client streams completions from one provider.
type Client interface {
	// Name identifies the provider for logging.
	Name() string

	// Stream runs one completion. The returned channel is closed when the
	// stream ends; an EventError element precedes the close on failure.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)

	Close() error
}
