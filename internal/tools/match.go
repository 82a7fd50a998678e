package tools

import (
	"context"
	"fmt"
	"strings"
)

const noMatches = "No matching candidates found."

func (t *Toolset) matchJobDescription(ctx context.Context, description string) (string, error) {
	matches, err := t.Matcher.MatchCandidates(ctx, description, t.matchLimit())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Error: candidate search failed: %v", err), nil
	}
	if len(matches) == 0 {
		return noMatches, nil
	}

	var sb strings.Builder
	sb.WriteString("embeddings_namespace | score")
	for _, m := range matches {
		fmt.Fprintf(&sb, "\n%s | %.4f", m.Namespace, m.Score)
	}
	return sb.String(), nil
}
