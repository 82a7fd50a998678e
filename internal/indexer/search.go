package indexer

import "context"

// Retrieval provides hybrid passage search over indexed resumes.
type Retrieval interface {
	// Search finds the top k passages for query. An empty namespace searches
	// every document. Results are sorted by relevance, highest first.
	Search(ctx context.Context, query, namespace string, k int) ([]Hit, error)

	// MatchCandidates ranks documents (one entry per namespace) against text.
	MatchCandidates(ctx context.Context, text string, limit int) ([]Match, error)
}
