package engine

import (
	"context"
	"fmt"
)

const decisionToolName = "route_query"

var decisionSchema = ToolSchema{
	Name:        decisionToolName,
	Description: "Decide whether the latest user message needs a database or document lookup, or can be answered directly.",
	JSONSchema: `{
  "type": "object",
  "properties": {
    "requires_db_query": {
      "type": "boolean",
      "description": "true when answering needs candidate data that is not already in the conversation"
    },
    "answer": {
      "type": ["string", "null"],
      "description": "the direct answer; null when requires_db_query is true"
    }
  },
  "required": ["requires_db_query"]
}`,
}

// LLMDecider implements Decider with a forced structured call.
type LLMDecider struct {
	llm    LLMClient
	model  string
	opts   ChatOptions
	system string
}

func NewLLMDecider(llm LLMClient, model string, opts ChatOptions, systemPrompt string) *LLMDecider {
	return &LLMDecider{llm: llm, model: model, opts: opts, system: systemPrompt}
}

func (d *LLMDecider) Decide(ctx context.Context, st *ConversationState) (DecisionOutput, error) {
	var out DecisionOutput
	msgs := transcript(d.system, st.Messages)
	if err := CallStructured(ctx, d.llm, d.model, msgs, decisionSchema, d.opts, &out); err != nil {
		return DecisionOutput{}, err
	}
	// Models often send an empty answer alongside a lookup request.
	if out.RequiresDBQuery && out.Answer != nil && *out.Answer == "" {
		out.Answer = nil
	}
	if err := out.Validate(); err != nil {
		return DecisionOutput{}, fmt.Errorf("invalid decision: %w", err)
	}
	return out, nil
}
