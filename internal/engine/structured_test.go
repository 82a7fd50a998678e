package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLLM returns canned responses in order and records every request.
type stubLLM struct {
	responses []LLMResponse
	errs      []error
	requests  []stubRequest
}

type stubRequest struct {
	messages []ChatMessage
	tools    []ToolSchema
	opts     ChatOptions
}

func (s *stubLLM) Chat(_ context.Context, _ string, messages []ChatMessage, tools []ToolSchema, opts ChatOptions) (LLMResponse, error) {
	i := len(s.requests)
	s.requests = append(s.requests, stubRequest{messages: messages, tools: tools, opts: opts})
	if i < len(s.errs) && s.errs[i] != nil {
		return LLMResponse{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func callResponse(name string, args map[string]any) LLMResponse {
	return LLMResponse{ToolCalls: []ToolCall{{ID: "t1", Name: name, Args: args}}}
}

func textResponse(content string) LLMResponse {
	return LLMResponse{Assistant: ChatMessage{Role: RoleAssistant, Content: content}}
}

func TestCallStructured(t *testing.T) {
	tests := []struct {
		name    string
		resp    LLMResponse
		want    DecisionOutput
		wantErr string
	}{
		{
			name: "forced tool call",
			resp: callResponse(decisionToolName, map[string]any{"requires_db_query": true}),
			want: DecisionOutput{RequiresDBQuery: true},
		},
		{
			name: "json body in a code fence",
			resp: textResponse("```json\n{\"requires_db_query\": false, \"answer\": \"Hi there\"}\n```"),
			want: DecisionOutput{Answer: strPtr("Hi there")},
		},
		{
			name:    "wrong tool",
			resp:    callResponse("something_else", nil),
			wantErr: "instead of route_query",
		},
		{
			name:    "prose only",
			resp:    textResponse("I think you should look it up."),
			wantErr: "neither a route_query call",
		},
		{
			name:    "schema violation",
			resp:    callResponse(decisionToolName, map[string]any{"answer": "missing flag"}),
			wantErr: "requires_db_query",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubLLM{responses: []LLMResponse{tt.resp}}
			var got DecisionOutput
			err := CallStructured(context.Background(), llm, "m", nil, decisionSchema, ChatOptions{}, &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Len(t, llm.requests, 1)
			assert.Equal(t, decisionToolName, llm.requests[0].opts.ToolChoice)
		})
	}
}

func TestDecodeArgsWeakTypes(t *testing.T) {
	var out struct {
		Limit int    `mapstructure:"limit"`
		SQL   string `mapstructure:"sql"`
	}
	err := DecodeArgs(map[string]any{"limit": "4", "sql": "SELECT 1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Limit)
	assert.Equal(t, "SELECT 1", out.SQL)
}

func TestLLMDeciderNormalizesEmptyAnswer(t *testing.T) {
	llm := &stubLLM{responses: []LLMResponse{
		callResponse(decisionToolName, map[string]any{"requires_db_query": true, "answer": ""}),
	}}
	st := NewConversationState("s")
	require.NoError(t, st.BeginRun("r", "Who knows Rust?"))

	out, err := NewLLMDecider(llm, "m", ChatOptions{}, "route").Decide(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, out.RequiresDBQuery)
	assert.Nil(t, out.Answer)
}

func TestLLMJudgeFeedback(t *testing.T) {
	tests := []struct {
		name         string
		args         map[string]any
		wantGood     bool
		wantFeedback string
	}{
		{
			name:     "accepted drops stray feedback",
			args:     map[string]any{"is_good_answer": true, "feedback": "fine"},
			wantGood: true,
		},
		{
			name:         "rejected keeps feedback",
			args:         map[string]any{"is_good_answer": false, "feedback": "List the emails."},
			wantFeedback: "List the emails.",
		},
		{
			name:         "rejected without feedback gets a generic one",
			args:         map[string]any{"is_good_answer": false, "feedback": nil},
			wantFeedback: "The answer does not meet the review criteria",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubLLM{responses: []LLMResponse{callResponse(judgeToolName, tt.args)}}
			st := NewConversationState("s")
			require.NoError(t, st.BeginRun("r", "q"))

			out, err := NewLLMJudge(llm, "m", ChatOptions{}, "judge").Evaluate(context.Background(), st)
			require.NoError(t, err)
			assert.Equal(t, tt.wantGood, out.IsGoodAnswer)
			if tt.wantGood {
				assert.Nil(t, out.Feedback)
				return
			}
			require.NotNil(t, out.Feedback)
			assert.True(t, strings.HasPrefix(*out.Feedback, tt.wantFeedback))
		})
	}
}

func TestLLMActorFinalTurnOffersNoTools(t *testing.T) {
	llm := &stubLLM{responses: []LLMResponse{textResponse("done")}}
	st := NewConversationState("s")
	require.NoError(t, st.BeginRun("r", "q"))
	st.Append(ChatMessage{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "list_tables"}}})
	st.Append(ChatMessage{Role: RoleTool, Name: "c1", Content: "candidates"})

	msg, err := NewLLMActor(llm, "m", ChatOptions{}, "act").Act(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", msg.Content)

	req := llm.requests[0]
	assert.Nil(t, req.tools)
	for _, m := range req.messages {
		assert.NotEqual(t, RoleTool, m.Role, "tool traffic must be flattened when no tools are offered")
		assert.Empty(t, m.ToolCalls)
	}
	assert.Contains(t, req.messages[0].Content, finalAnswerInstruction)
}

func TestTranscript(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "run_query", Args: map[string]any{"sql": "SELECT 1"}}}},
		{Role: RoleTool, Name: "c1", Content: "1"},
	}
	out := transcript("sys", msgs)

	require.Len(t, out, 4)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, `[called run_query {"sql":"SELECT 1"} as c1]`, out[2].Content)
	assert.Equal(t, RoleUser, out[3].Role)
	assert.Equal(t, "[tool result c1]\n1", out[3].Content)
	// The input history is untouched.
	assert.Len(t, msgs[1].ToolCalls, 1)
}

func TestObservedClientAccumulatesUsage(t *testing.T) {
	llm := &stubLLM{responses: []LLMResponse{{Usage: Usage{Prompt: 10, Completion: 5, Total: 15}}}}
	st := NewConversationState("s")
	client := observedClient{next: llm}

	_, err := client.Chat(withState(context.Background(), st), "m", nil, nil, ChatOptions{})
	require.NoError(t, err)
	_, err = client.Chat(withState(context.Background(), st), "m", nil, nil, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, Usage{Prompt: 20, Completion: 10, Total: 30}, st.Totals)

	llm.errs = []error{nil, nil, errors.New("boom")}
	_, err = client.Chat(context.Background(), "m", nil, nil, ChatOptions{})
	assert.EqualError(t, err, "boom")
}
