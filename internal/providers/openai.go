package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

// chatCompleter is the part of the OpenAI SDK client we call.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest, opts ...openai.ChatCompletionRequestOption) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements engine.LLMClient for OpenAI and OpenAI-compatible
// endpoints.
type OpenAIClient struct {
	client chatCompleter
}

// NewOpenAIClient creates a client. baseURL is optional and selects an
// OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

// Chat implements engine.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	req, err := buildOpenAIRequest(model, messages, toolSchemas, opts)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		httpStatus, retryAfter := openAIErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	return parseOpenAIResponse(resp)
}

func buildOpenAIRequest(model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(messages),
	}

	for _, ts := range toolSchemas {
		var params map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &params); err != nil {
			return req, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  params,
			},
		})
	}

	if len(req.Tools) > 0 {
		if opts.ToolChoice != "" {
			req.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: opts.ToolChoice},
			}
		} else {
			req.ToolChoice = "auto"
		}
	}

	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	return req, nil
}

// convertOpenAIMessages maps engine messages to the chat format. System
// messages are merged into one leading message. Tool results that do not
// follow an assistant tool call are dropped since the API rejects them.
func convertOpenAIMessages(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	var system string
	openCalls := map[string]bool{}

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case engine.RoleUser:
			openCalls = map[string]bool{}
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case engine.RoleAssistant:
			// The SDK serializes "" as null, which the API rejects.
			content := msg.Content
			if content == "" {
				content = " "
			}
			openCalls = map[string]bool{}
			var calls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				calls = append(calls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
				openCalls[tc.ID] = true
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
		case engine.RoleTool:
			if !openCalls[msg.Name] {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.Name,
				Content:    content,
			})
		}
	}

	if system != "" {
		out = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}}, out...)
	}
	return out
}

func parseOpenAIResponse(resp openai.ChatCompletionResponse) (engine.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from OpenAI")
	}
	choice := resp.Choices[0]

	assistant := engine.ChatMessage{
		Role:    engine.RoleAssistant,
		Content: choice.Message.Content,
	}

	var calls []engine.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		calls = append(calls, engine.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	assistant.ToolCalls = calls

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case choice.FinishReason == openai.FinishReasonLength:
		finish = "length"
	case choice.FinishReason == openai.FinishReasonContentFilter:
		finish = "content_filter"
	}

	return engine.LLMResponse{
		Assistant: assistant,
		ToolCalls: calls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finish,
	}, nil
}

// openAIErrorMetadata reads the HTTP status from typed SDK errors and falls
// back to scanning the message.
func openAIErrorMetadata(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		_, retryAfter := extractErrorMetadata(err)
		return apiErr.HTTPStatusCode, retryAfter
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		_, retryAfter := extractErrorMetadata(err)
		return reqErr.HTTPStatusCode, retryAfter
	}
	return extractErrorMetadata(err)
}
