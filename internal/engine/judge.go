package engine

import (
	"context"
	"fmt"
	"strings"
)

const judgeToolName = "review_answer"

var judgeSchema = ToolSchema{
	Name:        judgeToolName,
	Description: "Record whether the latest answer is good enough to return to the user.",
	JSONSchema: `{
  "type": "object",
  "properties": {
    "is_good_answer": {
      "type": "boolean",
      "description": "true only if the answer meets every review criterion"
    },
    "feedback": {
      "type": ["string", "null"],
      "description": "concise, actionable feedback; null when is_good_answer is true"
    }
  },
  "required": ["is_good_answer"]
}`,
}

// LLMJudge implements Judge with a forced structured call.
type LLMJudge struct {
	llm    LLMClient
	model  string
	opts   ChatOptions
	system string
}

func NewLLMJudge(llm LLMClient, model string, opts ChatOptions, systemPrompt string) *LLMJudge {
	return &LLMJudge{llm: llm, model: model, opts: opts, system: systemPrompt}
}

func (j *LLMJudge) Evaluate(ctx context.Context, st *ConversationState) (JudgeOutput, error) {
	var out JudgeOutput
	msgs := transcript(j.system, st.Messages)
	if err := CallStructured(ctx, j.llm, j.model, msgs, judgeSchema, j.opts, &out); err != nil {
		return JudgeOutput{}, err
	}
	if out.IsGoodAnswer {
		out.Feedback = nil
	} else if out.Feedback == nil || strings.TrimSpace(*out.Feedback) == "" {
		generic := "The answer does not meet the review criteria. Re-check it against the tool results."
		out.Feedback = &generic
	}
	if err := out.Validate(); err != nil {
		return JudgeOutput{}, fmt.Errorf("invalid review: %w", err)
	}
	return out, nil
}
