package engine

import "context"

type Hooks []Hook

func (hs Hooks) OnStageStart(ctx context.Context, st *ConversationState) {
	for _, h := range hs {
		h.OnStageStart(ctx, st)
	}
}
func (hs Hooks) OnBeforeLLM(ctx context.Context, st *ConversationState, m []ChatMessage, schemas []ToolSchema) {
	for _, h := range hs {
		h.OnBeforeLLM(ctx, st, m, schemas)
	}
}
func (hs Hooks) OnAfterLLM(ctx context.Context, st *ConversationState, r LLMResponse) {
	for _, h := range hs {
		h.OnAfterLLM(ctx, st, r)
	}
}
func (hs Hooks) OnMessage(ctx context.Context, st *ConversationState, m ChatMessage) {
	for _, h := range hs {
		h.OnMessage(ctx, st, m)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, st *ConversationState, c ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, st, c)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *ConversationState, c ToolCall, s string, e error) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, s, e)
	}
}
func (hs Hooks) OnTransition(ctx context.Context, st *ConversationState, from Stage, ev Event) {
	for _, h := range hs {
		h.OnTransition(ctx, st, from, ev)
	}
}
func (hs Hooks) OnSuspend(ctx context.Context, st *ConversationState, q PendingQuestion) {
	for _, h := range hs {
		h.OnSuspend(ctx, st, q)
	}
}
func (hs Hooks) OnError(ctx context.Context, st *ConversationState, err error) {
	for _, h := range hs {
		h.OnError(ctx, st, err)
	}
}
func (hs Hooks) OnDone(ctx context.Context, st *ConversationState) {
	for _, h := range hs {
		h.OnDone(ctx, st)
	}
}
