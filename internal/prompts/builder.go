package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{[a-z_]+\}\}`)

// PromptBuilder composes a prompt from a registered base, extra fragments and
// {{key}} variables.
type PromptBuilder struct {
	basePrompt *Prompt
	fragments  []string
	variables  map[string]string
}

// NewPromptBuilder creates a builder based on the latest version of id.
func NewPromptBuilder(registry *PromptRegistry, id string) (*PromptBuilder, error) {
	basePrompt, err := registry.GetLatest(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}

	return &PromptBuilder{
		basePrompt: basePrompt,
		fragments:  []string{basePrompt.Content},
		variables:  make(map[string]string),
	}, nil
}

// AddFragment appends a fragment to the prompt. Empty fragments are skipped.
func (b *PromptBuilder) AddFragment(text string) *PromptBuilder {
	if strings.TrimSpace(text) != "" {
		b.fragments = append(b.fragments, text)
	}
	return b
}

// SetVariable sets a variable for template substitution.
func (b *PromptBuilder) SetVariable(key, value string) *PromptBuilder {
	b.variables[key] = value
	return b
}

// Build constructs the final prompt string. A placeholder left without a
// value is an error so a missing variable never reaches the model. Values are
// substituted in one pass, so text inside a value is never expanded.
func (b *PromptBuilder) Build() (string, error) {
	result := strings.Join(b.fragments, "\n\n")
	var missing string
	result = placeholderRe.ReplaceAllStringFunc(result, func(ph string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(ph, "{{"), "}}")
		if v, ok := b.variables[key]; ok {
			return v
		}
		if missing == "" {
			missing = ph
		}
		return ph
	})
	if missing != "" {
		return "", fmt.Errorf("prompt %s: unresolved placeholder %s", b.basePrompt.ID, missing)
	}
	return result, nil
}

// Render is a shortcut for building id from the default registry.
func Render(id string, vars map[string]string) (string, error) {
	b, err := NewPromptBuilder(DefaultRegistry(), id)
	if err != nil {
		return "", err
	}
	for k, v := range vars {
		b.SetVariable(k, v)
	}
	return b.Build()
}
