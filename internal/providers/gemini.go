package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements engine.LLMClient for the Gemini API.
type GeminiClient struct {
	models geminiModels
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{models: client.Models}, nil
}

// Chat implements engine.LLMClient.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	contents, system := convertGeminiMessages(messages)
	config, err := buildGeminiConfig(system, toolSchemas, opts)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	result, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			httpStatus = apiErr.Code
		}
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	if result == nil {
		return engine.LLMResponse{}, fmt.Errorf("empty response from Gemini")
	}
	return parseGeminiResponse(result), nil
}

func buildGeminiConfig(system string, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (*genai.GenerateContentConfig, error) {
	temperature := opts.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if opts.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if len(toolSchemas) == 0 {
		return config, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(toolSchemas))
	for _, ts := range toolSchemas {
		var schema map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 ts.Name,
			Description:          ts.Description,
			ParametersJsonSchema: schema,
		})
	}
	config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

	if opts.ToolChoice != "" {
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{opts.ToolChoice},
			},
		}
	}
	return config, nil
}

// convertGeminiMessages maps engine messages to contents. Function
// responses are matched to their call by name, so the call id is resolved
// through the preceding assistant message.
func convertGeminiMessages(messages []engine.ChatMessage) ([]*genai.Content, string) {
	var (
		system    string
		contents  []*genai.Content
		callNames = map[string]string{}
	)

	add := func(role string, part *genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case engine.RoleUser:
			add(string(genai.RoleUser), &genai.Part{Text: msg.Content})
		case engine.RoleAssistant:
			if msg.Content != "" {
				add(string(genai.RoleModel), &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				add(string(genai.RoleModel), &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args}})
			}
		case engine.RoleTool:
			name, ok := callNames[msg.Name]
			if !ok {
				continue
			}
			add(string(genai.RoleUser), &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.Name,
				Name:     name,
				Response: map[string]any{"output": msg.Content},
			}})
		}
	}
	return contents, system
}

func parseGeminiResponse(result *genai.GenerateContentResponse) engine.LLMResponse {
	var calls []engine.ToolCall
	for _, fc := range result.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, engine.ToolCall{ID: id, Name: fc.Name, Args: args})
	}

	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	} else if len(result.Candidates) > 0 {
		switch result.Candidates[0].FinishReason {
		case genai.FinishReasonMaxTokens:
			finish = "length"
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			finish = "content_filter"
		}
	}

	var usage engine.Usage
	if u := result.UsageMetadata; u != nil {
		usage = engine.Usage{
			Prompt:     int(u.PromptTokenCount),
			Completion: int(u.CandidatesTokenCount),
			Total:      int(u.TotalTokenCount),
		}
	}

	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: result.Text(), ToolCalls: calls},
		ToolCalls:    calls,
		Usage:        usage,
		FinishReason: finish,
	}
}
