package indexer

import (
	"context"
)

// Chunker splits document text into overlapping passages.
type Chunker interface {
	Split(text string) []string
}

// Embedder generates vector embeddings for text chunks.
// This abstracts the embedding model (OpenAI, local hashing, etc.).
type Embedder interface {
	// Embed generates a vector embedding for a text chunk.
	// Returns the embedding vector as a byte slice.
	Embed(ctx context.Context, text string) ([]byte, int, error) // vector, dimension, error

	// EmbedBatch generates embeddings for multiple chunks efficiently.
	// Returns embeddings in the same order as input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]byte, int, error)

	// Dimension returns the dimension of the embedding vectors.
	Dimension() int
}

// Chunk is one indexed passage of a resume.
type Chunk struct {
	ChunkID   string
	Namespace string
	Seq       int
	Text      string
}

// Hit is a ranked passage returned by Search.
type Hit struct {
	ChunkID   string  `json:"chunk_id"`
	Namespace string  `json:"namespace"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"` // bm25_only, embedding_only, rrf(bm25+vec)
}

// Match is a candidate ranked against free text. Namespace is the
// candidate's embeddings_namespace.
type Match struct {
	Namespace string  `json:"namespace"`
	Score     float64 `json:"score"`
}
