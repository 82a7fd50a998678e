package engine

import (
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short word", text: "hi", want: 1},
		{name: "sentence", text: "hello world this is a test", want: 6},
		{name: "sql", text: "SELECT full_name FROM candidates WHERE country = 'FR'", want: 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Formula: runes/4 + whitespace/6, floor of 1 for non-empty text.
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountTokensForMessages(t *testing.T) {
	tk := DefaultTokenizer{}

	tests := []struct {
		name     string
		messages []ChatMessage
		minWant  int
	}{
		{
			name:     "single message",
			messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
			// content(1) + framing(4)
			minWant: 5,
		},
		{
			name: "with tool call",
			messages: []ChatMessage{{
				Role:      RoleAssistant,
				ToolCalls: []ToolCall{{Name: "run_query", Args: map[string]any{"sql": "SELECT 1"}}},
			}},
			minWant: 8,
		},
		{
			name: "history",
			messages: []ChatMessage{
				{Role: RoleUser, Content: "Who knows Go?"},
				{Role: RoleAssistant, Content: "1. Query skills."},
				{Role: RoleTool, Name: "c1", Content: "full_name\nAda Lovelace"},
			},
			minWant: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CountTokensForMessages(tk, tt.messages, "test-model")
			if err != nil {
				t.Fatalf("CountTokensForMessages() error = %v", err)
			}
			if got < tt.minWant {
				t.Errorf("CountTokensForMessages() = %v, want >= %v", got, tt.minWant)
			}
		})
	}
}

func TestGetTokenizerForModel(t *testing.T) {
	for _, model := range []string{"gpt-4o-mini", "claude-3-5-sonnet", "gemini-2.0-flash"} {
		t.Run(model, func(t *testing.T) {
			tk := GetTokenizerForModel(model)
			if tk == nil {
				t.Fatal("GetTokenizerForModel() returned nil")
			}
			n, err := tk.CountTokens("SELECT * FROM candidates", model)
			if err != nil {
				t.Fatalf("CountTokens() error = %v", err)
			}
			if n <= 0 {
				t.Errorf("CountTokens() = %d, want > 0", n)
			}
		})
	}
}
