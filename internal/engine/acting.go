package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const finalAnswerInstruction = "The tool budget for this question is spent. Answer the user now using only what the conversation already contains, and say plainly what could not be determined."

// LLMActor implements Actor with tool calling.
type LLMActor struct {
	llm    LLMClient
	model  string
	opts   ChatOptions
	system string
}

func NewLLMActor(llm LLMClient, model string, opts ChatOptions, systemPrompt string) *LLMActor {
	return &LLMActor{llm: llm, model: model, opts: opts, system: systemPrompt}
}

func (a *LLMActor) Act(ctx context.Context, st *ConversationState, tools []ToolSchema) (ChatMessage, error) {
	var msgs []ChatMessage
	if tools == nil {
		msgs = transcript(a.system+"\n\n"+finalAnswerInstruction, st.Messages)
	} else {
		msgs = make([]ChatMessage, 0, len(st.Messages)+1)
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: a.system})
		msgs = append(msgs, st.Messages...)
	}

	resp, err := a.llm.Chat(ctx, a.model, msgs, tools, a.opts)
	if err != nil {
		return ChatMessage{}, err
	}
	msg := resp.Assistant
	msg.Role = RoleAssistant
	msg.ToolCalls = resp.ToolCalls
	return msg, nil
}

// act runs one acting turn: one reasoning call, then at most one tool.
func (c *Controller) act(ctx context.Context, st *ConversationState) (Event, error) {
	var schemas []ToolSchema
	if st.ActTurns < c.cfg.MaxActTurns {
		schemas = c.tools.Schemas()
	}
	st.ActTurns++

	msg, err := c.reason(ctx, st, func(ctx context.Context) (ChatMessage, error) {
		return c.actor.Act(ctx, st, schemas)
	})
	if err != nil {
		return "", err
	}

	if schemas == nil {
		msg.ToolCalls = nil
	}
	if len(msg.ToolCalls) > 1 {
		msg.ToolCalls = msg.ToolCalls[:1]
	}

	if len(msg.ToolCalls) == 0 {
		st.Answer = msg.Content
		c.appendMessage(ctx, st, msg)
		return EventFinalAnswer, nil
	}

	call := msg.ToolCalls[0]
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
		msg.ToolCalls[0] = call
	}
	c.appendMessage(ctx, st, msg)

	c.hooks.OnToolCall(ctx, st, call)
	result, err := executeTool(withState(ctx, st), call, c.tools)

	var suspend *SuspendError
	if errors.As(err, &suspend) {
		st.Pending = &PendingQuestion{CallID: call.ID, Question: suspend.Question, AskedAt: time.Now().UTC()}
		c.hooks.OnToolResult(ctx, st, call, "", err)
		return EventToolCalled, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("execution cancelled: %w", ctx.Err())
		}
		result = "ERROR: " + err.Error()
	}
	c.hooks.OnToolResult(ctx, st, call, result, err)
	c.appendMessage(ctx, st, ChatMessage{Role: RoleTool, Name: call.ID, Content: result})
	return EventToolCalled, nil
}
