// ABOUTME: OpenAI Chat Completions streaming adapter with base URL support for compatible providers.
// ABOUTME: Covers OpenRouter, Gemini's OpenAI endpoint, Moonshot, and OpenAI itself.

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client over the OpenAI Chat Completions API with an
// optional custom base URL. This uses /v1/chat/completions, the endpoint all
// OpenAI-compatible providers support.
type OpenAIClient struct {
	client openai.Client
	model  string
	label  string
}

// NewOpenAIClient creates a streaming Chat Completions client. An empty
// baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	label := "openai"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		label = "openai-compat"
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
		label:  label,
	}
}

func (c *OpenAIClient) Name() string { return c.label }

func (c *OpenAIClient) Close() error { return nil }

// Stream runs one completion, translating chunks into StreamEvents. Tool call
// events are synthesized when the accumulator completes a call; text_start is
// emitted before the first content delta.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	params := c.convertRequest(req)
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("component=model.openai action=panic_recovered err=%v", r)
				events <- StreamEvent{Kind: EventError, Err: fmt.Errorf("panic in stream processing: %v", r)}
			}
			close(events)
		}()

		var acc openai.ChatCompletionAccumulator
		textOpen := false

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !textOpen {
					textOpen = true
					events <- StreamEvent{Kind: EventTextStart}
				}
				events <- StreamEvent{Kind: EventTextDelta, Text: chunk.Choices[0].Delta.Content}
			}

			if toolCall, ok := acc.JustFinishedToolCall(); ok {
				var input map[string]any
				if err := json.Unmarshal([]byte(toolCall.Arguments), &input); err != nil {
					log.Printf("component=model.openai action=bad_tool_arguments tool=%s err=%v", toolCall.Name, err)
					input = make(map[string]any)
				}
				events <- StreamEvent{Kind: EventToolStart, ToolCallID: toolCall.ID, ToolName: toolCall.Name}
				events <- StreamEvent{Kind: EventToolDelta, ToolCallID: toolCall.ID, Text: toolCall.Arguments}
				events <- StreamEvent{
					Kind:       EventToolEnd,
					ToolCallID: toolCall.ID,
					ToolName:   toolCall.Name,
					Call:       &ToolCall{ID: toolCall.ID, Name: toolCall.Name, Arguments: input},
				}
			}
		}

		if textOpen {
			events <- StreamEvent{Kind: EventTextEnd}
		}

		if err := stream.Err(); err != nil {
			events <- StreamEvent{Kind: EventError, Err: err}
			return
		}

		usage := &Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:  int(acc.Usage.TotalTokens),
		}
		events <- StreamEvent{Kind: EventFinish, Usage: usage}
	}()

	return events, nil
}

// convertRequest maps the provider-neutral request onto Chat Completions
// params.
func (c *OpenAIClient) convertRequest(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}

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
		messages = append(messages, convertMessage(msg)...)
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params
}

// convertMessage maps one neutral message to wire messages. Tool results fan
// out to one tool message per part.
func convertMessage(msg Message) []openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case RoleUser:
		return []openai.ChatCompletionMessageParamUnion{convertUserMessage(msg)}

	case RoleTool:
		var out []openai.ChatCompletionMessageParamUnion
		for _, p := range msg.Parts {
			if p.Kind != PartToolResult {
				continue
			}
			out = append(out, openai.ToolMessage(p.Result, p.ToolCallID))
		}
		return out

	case RoleAssistant:
		return []openai.ChatCompletionMessageParamUnion{convertAssistantMessage(msg)}
	}
	return nil
}

// convertUserMessage keeps plain-text messages as string content; image parts
// switch the message to the content-part array form.
func convertUserMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	var parts []openai.ChatCompletionContentPartUnionParam
	hasImage := false
	for _, p := range msg.Parts {
		switch p.Kind {
		case PartText:
			if p.Text != "" {
				parts = append(parts, openai.TextContentPart(p.Text))
			}
		case PartImage:
			hasImage = true
			parts = append(parts, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURL},
			))
		}
	}
	if !hasImage {
		return openai.UserMessage(msg.Text())
	}
	return openai.UserMessage(parts)
}

func convertAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, call := range msg.ToolCalls() {
		argsJSON, _ := json.Marshal(call.Arguments)
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(argsJSON),
			},
		})
	}

	text := msg.Text()
	if len(toolCalls) > 0 {
		asst := openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: toolCalls,
		}
		if text != "" {
			asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(text),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	}
	return openai.AssistantMessage(text)
}

// Compile-time interface assertion.
var _ Client = (*OpenAIClient)(nil)
