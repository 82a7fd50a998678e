package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

const (
	anthropicDefaultMaxTokens   = 4096
	anthropicDefaultTemperature = float32(0.1)
)

type messagesCreator interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// AnthropicClient implements engine.LLMClient for the Anthropic messages API.
type AnthropicClient struct {
	client messagesCreator
}

// NewAnthropicClient creates a client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(apiKey)}
}

// Chat implements engine.LLMClient.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	req, err := buildAnthropicRequest(model, messages, toolSchemas, opts)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		var reqErr *anthropic.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode != 0 {
			httpStatus = reqErr.StatusCode
		}
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	return parseAnthropicResponse(resp), nil
}

func buildAnthropicRequest(model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (anthropic.MessagesRequest, error) {
	system, msgs := convertAnthropicMessages(messages)

	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	temperature := anthropicDefaultTemperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}

	for _, ts := range toolSchemas {
		var schema map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schema); err != nil {
			return req, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		req.Tools = append(req.Tools, anthropic.ToolDefinition{
			Name:        ts.Name,
			Description: ts.Description,
			InputSchema: schema,
		})
	}
	if len(req.Tools) > 0 && opts.ToolChoice != "" {
		req.ToolChoice = &anthropic.ToolChoice{Type: "tool", Name: opts.ToolChoice}
	}
	return req, nil
}

// convertAnthropicMessages splits out system parts and maps the rest.
// Tool results travel as user content; consecutive user turns are merged
// because the API expects roles to alternate.
func convertAnthropicMessages(messages []engine.ChatMessage) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var (
		system    []anthropic.MessageSystemPart
		out       []anthropic.Message
		openCalls = map[string]bool{}
	)

	appendContent := func(role anthropic.ChatRole, content ...anthropic.MessageContent) {
		if len(content) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content...)
			return
		}
		out = append(out, anthropic.Message{Role: role, Content: content})
	}

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: msg.Content})
		case engine.RoleUser:
			openCalls = map[string]bool{}
			appendContent(anthropic.RoleUser, anthropic.NewTextMessageContent(msg.Content))
		case engine.RoleAssistant:
			openCalls = map[string]bool{}
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(args)))
				openCalls[tc.ID] = true
			}
			appendContent(anthropic.RoleAssistant, content...)
		case engine.RoleTool:
			if !openCalls[msg.Name] {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			appendContent(anthropic.RoleUser, anthropic.NewToolResultMessageContent(msg.Name, content, false))
		}
	}
	return system, out
}

func parseAnthropicResponse(resp anthropic.MessagesResponse) engine.LLMResponse {
	var (
		text  string
		calls []engine.ToolCall
	)
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil || block.ID == "" || block.Name == "" {
				continue
			}
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{}
				}
			}
			calls = append(calls, engine.ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case resp.StopReason == anthropic.MessagesStopReasonMaxTokens:
		finish = "length"
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{Role: engine.RoleAssistant, Content: text, ToolCalls: calls},
		ToolCalls: calls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finish,
	}
}
