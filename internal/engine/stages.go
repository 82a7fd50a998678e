package engine

import (
	"context"
	"fmt"
)

// DecisionOutput is the decision stage verdict. Answer is set exactly when
// no lookup is required.
type DecisionOutput struct {
	RequiresDBQuery bool    `mapstructure:"requires_db_query" json:"requires_db_query"`
	Answer          *string `mapstructure:"answer" json:"answer,omitempty"`
}

func (d DecisionOutput) Validate() error {
	if d.RequiresDBQuery && d.Answer != nil {
		return fmt.Errorf("decision requires a lookup but also carries an answer")
	}
	if !d.RequiresDBQuery && d.Answer == nil {
		return fmt.Errorf("decision answers directly but carries no answer")
	}
	return nil
}

// JudgeOutput is the review verdict. Feedback is set exactly when the answer
// is rejected.
type JudgeOutput struct {
	IsGoodAnswer bool    `mapstructure:"is_good_answer" json:"is_good_answer"`
	Feedback     *string `mapstructure:"feedback" json:"feedback,omitempty"`
}

func (j JudgeOutput) Validate() error {
	if j.IsGoodAnswer && j.Feedback != nil {
		return fmt.Errorf("accepted answer must not carry feedback")
	}
	if !j.IsGoodAnswer && j.Feedback == nil {
		return fmt.Errorf("rejected answer must carry feedback")
	}
	return nil
}

// Decider routes a query either to a direct answer or to a lookup.
type Decider interface {
	Decide(ctx context.Context, st *ConversationState) (DecisionOutput, error)
}

// Planner writes the step-by-step plan for a lookup.
type Planner interface {
	Plan(ctx context.Context, st *ConversationState) (string, error)
}

// Actor produces one acting turn. With tools nil it must answer without
// calling anything.
type Actor interface {
	Act(ctx context.Context, st *ConversationState, tools []ToolSchema) (ChatMessage, error)
}

// Judge reviews the latest answer.
type Judge interface {
	Evaluate(ctx context.Context, st *ConversationState) (JudgeOutput, error)
}

type stateKey struct{}

func withState(ctx context.Context, st *ConversationState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// StateFromContext returns the run state attached by the controller, if any.
func StateFromContext(ctx context.Context) (*ConversationState, bool) {
	st, ok := ctx.Value(stateKey{}).(*ConversationState)
	return st, ok
}

// observedClient reports every reasoning call to the hooks and keeps the
// run's token totals.
type observedClient struct {
	next  LLMClient
	hooks Hooks
}

func (c observedClient) Chat(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (LLMResponse, error) {
	st, ok := StateFromContext(ctx)
	if !ok {
		return c.next.Chat(ctx, model, messages, toolSchemas, opts)
	}
	c.hooks.OnBeforeLLM(ctx, st, messages, toolSchemas)
	resp, err := c.next.Chat(ctx, model, messages, toolSchemas, opts)
	if err != nil {
		return resp, err
	}
	st.Totals.Add(resp.Usage)
	c.hooks.OnAfterLLM(ctx, st, resp)
	return resp, nil
}
