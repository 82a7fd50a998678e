package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// CallStructured asks the model for a single call to schema and decodes its
// arguments into out. Models that ignore the forced tool and reply with a
// JSON body instead are accepted too.
func CallStructured(ctx context.Context, llm LLMClient, model string, messages []ChatMessage, schema ToolSchema, opts ChatOptions, out any) error {
	opts.ToolChoice = schema.Name
	resp, err := llm.Chat(ctx, model, messages, []ToolSchema{schema}, opts)
	if err != nil {
		return err
	}

	args, err := structuredArgs(resp, schema.Name)
	if err != nil {
		return err
	}
	if err := validateAgainstSchema(schema.Name, schema.JSONSchema, args); err != nil {
		return err
	}
	return DecodeArgs(args, out)
}

// DecodeArgs decodes loosely typed tool arguments into a tagged struct.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return nil
}

func structuredArgs(resp LLMResponse, name string) (map[string]any, error) {
	for _, call := range resp.ToolCalls {
		if call.Name == name {
			return call.Args, nil
		}
	}
	if len(resp.ToolCalls) > 0 {
		return nil, fmt.Errorf("model called %s instead of %s", resp.ToolCalls[0].Name, name)
	}

	body := extractJSONObject(resp.Assistant.Content)
	if body == "" {
		return nil, fmt.Errorf("model returned neither a %s call nor a JSON object", name)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(body), &args); err != nil {
		return nil, fmt.Errorf("parsing %s output: %w", name, err)
	}
	return args, nil
}

// extractJSONObject returns the outermost {...} span of s, tolerating code
// fences and prose around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// transcript flattens tool traffic into plain turns so stages that offer no
// tools can still read what was looked up.
func transcript(system string, msgs []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, ChatMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleTool:
			out = append(out, ChatMessage{
				Role:    RoleUser,
				Content: fmt.Sprintf("[tool result %s]\n%s", m.Name, m.Content),
			})
		case RoleAssistant:
			content := m.Content
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				content = strings.TrimSpace(content + fmt.Sprintf("\n[called %s %s as %s]", tc.Name, args, tc.ID))
			}
			out = append(out, ChatMessage{Role: RoleAssistant, Content: content})
		default:
			out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}
