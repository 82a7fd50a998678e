package engine

import (
	"context"
	"fmt"
	"strings"
)

// LLMPlanner implements Planner with a plain completion. It offers no tools;
// the tool catalogue is part of its system prompt.
type LLMPlanner struct {
	llm    LLMClient
	model  string
	opts   ChatOptions
	system string
}

func NewLLMPlanner(llm LLMClient, model string, opts ChatOptions, systemPrompt string) *LLMPlanner {
	return &LLMPlanner{llm: llm, model: model, opts: opts, system: systemPrompt}
}

func (p *LLMPlanner) Plan(ctx context.Context, st *ConversationState) (string, error) {
	resp, err := p.llm.Chat(ctx, p.model, transcript(p.system, st.Messages), nil, p.opts)
	if err != nil {
		return "", err
	}
	plan := strings.TrimSpace(resp.Assistant.Content)
	if plan == "" {
		return "", fmt.Errorf("planner returned an empty plan")
	}
	return plan, nil
}
