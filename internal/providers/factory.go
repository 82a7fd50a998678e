package providers

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/cvagent/internal/config"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

// New builds the configured provider client wrapped in the transport retry
// policy.
func New(ctx context.Context, cfg config.LLMConfig) (engine.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for llm provider %s", cfg.Provider)
	}

	var client engine.LLMClient
	switch cfg.Provider {
	case "openai":
		client = NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
	case "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible provider requires a base URL")
		}
		client = NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
	case "anthropic":
		client = NewAnthropicClient(cfg.APIKey)
	case "gemini":
		gc, err := NewGeminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		client = gc
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, anthropic, gemini, openai-compatible)", cfg.Provider)
	}

	return engine.NewRetryClient(client, RetryPolicy(cfg.Retry)), nil
}

// RetryPolicy converts configured retry settings into an engine policy.
func RetryPolicy(rc config.RetryConfig) engine.RetryPolicy {
	policy := engine.DefaultRetryPolicy()
	policy.MaxRetries = rc.MaxRetries
	if rc.InitialDelay > 0 {
		policy.InitialDelay = rc.InitialDelay
	}
	if rc.MaxDelay > 0 {
		policy.MaxDelay = rc.MaxDelay
	}
	return policy
}
