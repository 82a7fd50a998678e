// Package engine provides the decide/plan/act/judge agent controller.
// This file contains token counting interfaces and implementations.

package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Tokenizer provides token counting for text.
type Tokenizer interface {
	CountTokens(text string, model string) (int, error)
}

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English prose.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")
	estimated := (charCount / 4) + (whitespaceCount / 6)

	if estimated < 1 {
		return 1
	}
	return estimated
}

// DefaultTokenizer uses estimation as a fallback when no specific tokenizer is available.
type DefaultTokenizer struct{}

// CountTokens implements Tokenizer using estimation.
func (t DefaultTokenizer) CountTokens(text string, model string) (int, error) {
	return EstimateTokens(text), nil
}

// TikTokenizer counts with the GPT-4 BPE codec. Other vendors' models are
// approximated with the same encoding.
type TikTokenizer struct {
	codec tokenizer.Codec
}

func (t TikTokenizer) CountTokens(text string, model string) (int, error) {
	n, err := t.codec.Count(text)
	if err != nil {
		return 0, fmt.Errorf("counting tokens for %s: %w", model, err)
	}
	return n, nil
}

var (
	tikOnce  sync.Once
	tikCodec tokenizer.Codec
)

// GetTokenizerForModel returns an appropriate tokenizer for the given model.
func GetTokenizerForModel(model string) Tokenizer {
	tikOnce.Do(func() {
		codec, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			tikCodec = codec
		}
	})
	if tikCodec == nil {
		return DefaultTokenizer{}
	}
	return TikTokenizer{codec: tikCodec}
}

// CountTokensForMessages counts tokens for a slice of messages, including
// about four tokens of framing per message.
func CountTokensForMessages(tk Tokenizer, messages []ChatMessage, model string) (int, error) {
	total := 0
	for _, msg := range messages {
		n, err := tk.CountTokens(msg.Content, model)
		if err != nil {
			return 0, fmt.Errorf("failed to count content tokens: %w", err)
		}
		total += n + 4
		for _, tc := range msg.ToolCalls {
			n, err := tk.CountTokens(fmt.Sprintf("%s %v", tc.Name, tc.Args), model)
			if err != nil {
				return 0, fmt.Errorf("failed to count tool call tokens: %w", err)
			}
			total += n
		}
	}
	return total, nil
}
