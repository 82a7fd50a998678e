// engine/hook_logger.go
package engine

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
)

// LoggerHook writes one structured line per controller event.
type LoggerHook struct {
	L     *zap.Logger
	Model string
}

func (h LoggerHook) fields(st *ConversationState) []zap.Field {
	return []zap.Field{
		zap.String("session_id", st.SessionID),
		zap.String("run_id", st.RunID),
		zap.String("stage", string(st.Stage)),
	}
}

func (h LoggerHook) OnStageStart(_ context.Context, st *ConversationState) {
	h.L.Debug("stage start", append(h.fields(st),
		zap.Int("messages", len(st.Messages)),
		zap.Int("feedback_requests", st.NumFeedbackRequests))...)
}
func (h LoggerHook) OnBeforeLLM(_ context.Context, st *ConversationState, msgs []ChatMessage, toolSchemas []ToolSchema) {
	if ce := h.L.Check(zap.DebugLevel, "llm request"); ce != nil {
		tk := GetTokenizerForModel(h.Model)
		messageTokens, _ := CountTokensForMessages(tk, msgs, h.Model)
		toolTokens := 0
		for _, schema := range toolSchemas {
			n, _ := tk.CountTokens(schema.Name+schema.Description+schema.JSONSchema, h.Model)
			toolTokens += n + 10
		}
		ce.Write(append(h.fields(st),
			zap.Int("messages", len(msgs)),
			zap.Int("tools", len(toolSchemas)),
			zap.Int("message_tokens", messageTokens),
			zap.Int("tool_tokens", toolTokens))...)
	}
}
func (h LoggerHook) OnAfterLLM(_ context.Context, st *ConversationState, r LLMResponse) {
	h.L.Debug("llm response", append(h.fields(st),
		zap.String("finish", r.FinishReason),
		zap.Int("prompt_tokens", r.Usage.Prompt),
		zap.Int("completion_tokens", r.Usage.Completion),
		zap.Int("cumulative_tokens", st.Totals.Total))...)
}
func (h LoggerHook) OnMessage(context.Context, *ConversationState, ChatMessage) {}
func (h LoggerHook) OnToolCall(_ context.Context, st *ConversationState, c ToolCall) {
	h.L.Info("tool call", append(h.fields(st), zap.String("tool", c.Name), zap.Any("args", c.Args))...)
}
func (h LoggerHook) OnToolResult(_ context.Context, st *ConversationState, c ToolCall, result string, err error) {
	if err != nil {
		h.L.Warn("tool error", append(h.fields(st), zap.String("tool", c.Name), zap.Error(err))...)
		return
	}
	h.L.Debug("tool result", append(h.fields(st), zap.String("tool", c.Name), zap.String("result", preview(result, 200)))...)
}
func (h LoggerHook) OnTransition(_ context.Context, st *ConversationState, from Stage, ev Event) {
	h.L.Info("transition", append(h.fields(st),
		zap.String("from", string(from)),
		zap.String("event", string(ev)),
		zap.Int("feedback_requests", st.NumFeedbackRequests))...)
}
func (h LoggerHook) OnSuspend(_ context.Context, st *ConversationState, q PendingQuestion) {
	h.L.Info("awaiting human input", append(h.fields(st), zap.String("question", q.Question))...)
}
func (h LoggerHook) OnError(_ context.Context, st *ConversationState, err error) {
	h.L.Error("run failed", append(h.fields(st), zap.Error(err))...)
}
func (h LoggerHook) OnDone(_ context.Context, st *ConversationState) {
	h.L.Info("run done", append(h.fields(st),
		zap.Bool("accepted", st.IsGoodAnswer),
		zap.Bool("required_lookup", st.RequiresDBQuery),
		zap.Int("feedback_requests", st.NumFeedbackRequests),
		zap.Int("tokens", st.Totals.Total))...)
}

func preview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
