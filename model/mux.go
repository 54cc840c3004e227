// ABOUTME: muxllm.Client adapter so mux sub-agents can run against any routed provider.
// ABOUTME: Bridges the mux request/response model onto the Chat Completions endpoint.

package model

import (
	"context"
	"encoding/json"
	"log"

	muxllm "github.com/2389-research/mux/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// MuxClient implements muxllm.Client over the Chat Completions API, with base
// URL support so delegated sub-agents use the same provider routing as the
// primary agents. mux's built-in OpenAI client has no base URL hook.
type MuxClient struct {
	client openai.Client
	model  string
}

// NewMuxClient resolves the model string and builds a mux-compatible client
// for it.
func NewMuxClient(modelString string) (*MuxClient, error) {
	r, err := Resolve(modelString)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(r.APIKey)}
	if r.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(r.BaseURL))
	}
	return &MuxClient{client: openai.NewClient(opts...), model: r.Model}, nil
}

// CreateMessage sends a message and returns the complete response.
func (c *MuxClient) CreateMessage(ctx context.Context, req *muxllm.Request) (*muxllm.Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}
	resp, err := c.client.Chat.Completions.New(ctx, convertMuxRequest(req))
	if err != nil {
		return nil, err
	}
	return convertMuxResponse(resp), nil
}

// CreateMessageStream sends a message and returns a channel of streaming
// events.
func (c *MuxClient) CreateMessageStream(ctx context.Context, req *muxllm.Request) (<-chan muxllm.StreamEvent, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, convertMuxRequest(req))
	events := make(chan muxllm.StreamEvent, 100)

	go func() {
		defer close(events)

		var acc openai.ChatCompletionAccumulator
		events <- muxllm.StreamEvent{Type: muxllm.EventMessageStart}

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				events <- muxllm.StreamEvent{
					Type: muxllm.EventContentDelta,
					Text: chunk.Choices[0].Delta.Content,
				}
			}

			if toolCall, ok := acc.JustFinishedToolCall(); ok {
				events <- muxllm.StreamEvent{
					Type:  muxllm.EventContentStop,
					Block: muxToolUseBlock(toolCall.ID, toolCall.Name, toolCall.Arguments),
				}
			}
		}

		if err := stream.Err(); err != nil {
			events <- muxllm.StreamEvent{Type: muxllm.EventError, Error: err}
			return
		}

		events <- muxllm.StreamEvent{
			Type:     muxllm.EventMessageStop,
			Response: convertMuxResponse(&acc.ChatCompletion),
		}
	}()

	return events, nil
}

func muxToolUseBlock(id, name, rawArgs string) *muxllm.ContentBlock {
	var input map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &input); err != nil {
		log.Printf("component=model.mux action=bad_tool_arguments tool=%s err=%v", name, err)
		input = make(map[string]any)
	}
	return &muxllm.ContentBlock{
		Type:  muxllm.ContentTypeToolUse,
		ID:    id,
		Name:  name,
		Input: input,
	}
}

func convertMuxRequest(req *muxllm.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{Model: req.Model}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case muxllm.RoleUser:
			messages = append(messages, convertMuxUserMessage(msg))
		case muxllm.RoleAssistant:
			messages = append(messages, convertMuxAssistantMessage(msg))
		}
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	return params
}

func convertMuxUserMessage(msg muxllm.Message) openai.ChatCompletionMessageParamUnion {
	for _, block := range msg.Blocks {
		if block.Type == muxllm.ContentTypeToolResult {
			return openai.ToolMessage(block.Text, block.ToolUseID)
		}
	}
	if msg.Content != "" {
		return openai.UserMessage(msg.Content)
	}
	for _, block := range msg.Blocks {
		if block.Type == muxllm.ContentTypeText {
			return openai.UserMessage(block.Text)
		}
	}
	return openai.UserMessage("")
}

func convertMuxAssistantMessage(msg muxllm.Message) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	textContent := msg.Content

	for _, block := range msg.Blocks {
		switch block.Type {
		case muxllm.ContentTypeText:
			textContent = block.Text
		case muxllm.ContentTypeToolUse:
			argsJSON, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   block.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      block.Name,
					Arguments: string(argsJSON),
				},
			})
		}
	}

	if len(toolCalls) > 0 {
		asst := openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: toolCalls,
		}
		if textContent != "" {
			asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(textContent),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	}
	return openai.AssistantMessage(textContent)
}

func convertMuxResponse(resp *openai.ChatCompletion) *muxllm.Response {
	result := &muxllm.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: muxllm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	if len(resp.Choices) == 0 {
		return result
	}
	choice := resp.Choices[0]

	switch choice.FinishReason {
	case "tool_calls":
		result.StopReason = muxllm.StopReasonToolUse
	case "length":
		result.StopReason = muxllm.StopReasonMaxTokens
	default:
		result.StopReason = muxllm.StopReasonEndTurn
	}

	if choice.Message.Content != "" {
		result.Content = append(result.Content, muxllm.ContentBlock{
			Type: muxllm.ContentTypeText,
			Text: choice.Message.Content,
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		block := muxToolUseBlock(tc.ID, tc.Function.Name, tc.Function.Arguments)
		result.Content = append(result.Content, *block)
	}

	return result
}

// Compile-time interface assertion.
var _ muxllm.Client = (*MuxClient)(nil)
