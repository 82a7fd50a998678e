// engine/hooks.go
package engine

import "context"

type Hook interface {
	OnStageStart(ctx context.Context, st *ConversationState)
	OnBeforeLLM(ctx context.Context, st *ConversationState, messages []ChatMessage, toolSchemas []ToolSchema)
	OnAfterLLM(ctx context.Context, st *ConversationState, resp LLMResponse)
	OnMessage(ctx context.Context, st *ConversationState, msg ChatMessage)
	OnToolCall(ctx context.Context, st *ConversationState, call ToolCall)
	OnToolResult(ctx context.Context, st *ConversationState, call ToolCall, result string, err error)
	OnTransition(ctx context.Context, st *ConversationState, from Stage, ev Event)
	OnSuspend(ctx context.Context, st *ConversationState, q PendingQuestion)
	OnError(ctx context.Context, st *ConversationState, err error)
	OnDone(ctx context.Context, st *ConversationState)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnStageStart(context.Context, *ConversationState)                             {}
func (NopHook) OnBeforeLLM(context.Context, *ConversationState, []ChatMessage, []ToolSchema) {}
func (NopHook) OnAfterLLM(context.Context, *ConversationState, LLMResponse)                  {}
func (NopHook) OnMessage(context.Context, *ConversationState, ChatMessage)                   {}
func (NopHook) OnToolCall(context.Context, *ConversationState, ToolCall)                     {}
func (NopHook) OnToolResult(context.Context, *ConversationState, ToolCall, string, error)    {}
func (NopHook) OnTransition(context.Context, *ConversationState, Stage, Event)               {}
func (NopHook) OnSuspend(context.Context, *ConversationState, PendingQuestion)               {}
func (NopHook) OnError(context.Context, *ConversationState, error)                           {}
func (NopHook) OnDone(context.Context, *ConversationState)                                   {}
