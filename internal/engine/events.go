package engine

import "context"

// Event kinds emitted by ChannelHook.
const (
	KindStage      = "stage"
	KindMessage    = "message"
	KindToolStart  = "tool_start"
	KindToolDone   = "tool_done"
	KindTransition = "transition"
	KindSuspended  = "suspended"
	KindError      = "error"
	KindDone       = "done"
)

// StreamEvent is one item of a streamed run. Every event carries the stage
// that produced it.
type StreamEvent struct {
	Kind    string       `json:"kind"`
	Stage   Stage        `json:"stage"`
	RunID   string       `json:"run_id"`
	Message *ChatMessage `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
}

// ChannelHook bridges the engine to a stream consumer. Sends block so the
// consumer sees events in production order; a cancelled context drops them.
type ChannelHook struct {
	NopHook
	Ch chan<- StreamEvent
}

func (h ChannelHook) send(ctx context.Context, ev StreamEvent) {
	select {
	case h.Ch <- ev:
	case <-ctx.Done():
	}
}

func (h ChannelHook) OnStageStart(ctx context.Context, st *ConversationState) {
	h.send(ctx, StreamEvent{Kind: KindStage, Stage: st.Stage, RunID: st.RunID})
}
func (h ChannelHook) OnMessage(ctx context.Context, st *ConversationState, m ChatMessage) {
	h.send(ctx, StreamEvent{Kind: KindMessage, Stage: st.Stage, RunID: st.RunID, Message: &m})
}
func (h ChannelHook) OnToolCall(ctx context.Context, st *ConversationState, c ToolCall) {
	h.send(ctx, StreamEvent{Kind: KindToolStart, Stage: st.Stage, RunID: st.RunID, Data: c})
}
func (h ChannelHook) OnToolResult(ctx context.Context, st *ConversationState, c ToolCall, _ string, err error) {
	data := map[string]any{"tool": c.Name, "id": c.ID}
	if err != nil {
		data["error"] = err.Error()
	}
	h.send(ctx, StreamEvent{Kind: KindToolDone, Stage: st.Stage, RunID: st.RunID, Data: data})
}
func (h ChannelHook) OnTransition(ctx context.Context, st *ConversationState, from Stage, ev Event) {
	h.send(ctx, StreamEvent{Kind: KindTransition, Stage: st.Stage, RunID: st.RunID, Data: map[string]any{
		"from":                  from,
		"event":                 ev,
		"num_feedback_requests": st.NumFeedbackRequests,
	}})
}
func (h ChannelHook) OnSuspend(ctx context.Context, st *ConversationState, q PendingQuestion) {
	h.send(ctx, StreamEvent{Kind: KindSuspended, Stage: st.Stage, RunID: st.RunID, Data: q})
}
func (h ChannelHook) OnError(ctx context.Context, st *ConversationState, err error) {
	h.send(ctx, StreamEvent{Kind: KindError, Stage: st.Stage, RunID: st.RunID, Data: err.Error()})
}
func (h ChannelHook) OnDone(ctx context.Context, st *ConversationState) {
	h.send(ctx, StreamEvent{Kind: KindDone, Stage: st.Stage, RunID: st.RunID, Data: map[string]any{
		"answer":   st.Answer,
		"accepted": st.IsGoodAnswer,
		"tokens":   st.Totals.Total,
	}})
}
