package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	// rrfOffset is the k constant of Reciprocal Rank Fusion.
	rrfOffset = 60.0

	// Candidate pool sizes for each half of the hybrid search.
	nBM25 = 100
	nVec  = 100

	// maxVectorScan bounds the embedding candidates scored per query.
	maxVectorScan = 5000
)

// Config configures an Index.
type Config struct {
	// Dir holds chunks.db and the bleve directory. Empty means in-memory
	// BM25 with a temporary chunk database, which is only useful in tests.
	Dir string

	Chunker  Chunker
	Embedder Embedder
	Logger   *zap.Logger
}

// Index is the hybrid resume index: bleve BM25 plus cosine similarity over
// stored embeddings, fused with RRF.
type Index struct {
	db       *DB
	bm25     *BM25Index
	chunker  Chunker
	embedder Embedder
	log      *zap.Logger

	// mu serializes writes; bleve and sqlite both accept concurrent readers.
	mu sync.Mutex
}

// Open opens or creates the index under cfg.Dir.
func Open(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Chunker == nil {
		cfg.Chunker = NewRecursiveChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if cfg.Embedder == nil {
		cfg.Embedder = NewHashEmbedder(384)
	}

	var (
		bm25   *BM25Index
		dbPath string
		err    error
	)
	if cfg.Dir == "" {
		tmp, err := os.MkdirTemp("", "cvagent-index-*")
		if err != nil {
			return nil, fmt.Errorf("create temp index dir: %w", err)
		}
		dbPath = filepath.Join(tmp, "chunks.db")
		bm25, err = NewMemBM25Index()
		if err != nil {
			return nil, err
		}
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		dbPath = filepath.Join(cfg.Dir, "chunks.db")
		bm25, err = NewBM25Index(filepath.Join(cfg.Dir, "bm25.bleve"), cfg.Logger)
		if err != nil {
			return nil, err
		}
	}

	db, err := NewDB(ctx, dbPath)
	if err != nil {
		bm25.Close()
		return nil, err
	}

	cfg.Logger.Info("resume index ready",
		zap.String("dir", cfg.Dir),
		zap.Int("embedding_dim", cfg.Embedder.Dimension()))

	return &Index{
		db:       db,
		bm25:     bm25,
		chunker:  cfg.Chunker,
		embedder: cfg.Embedder,
		log:      cfg.Logger,
	}, nil
}

// IndexDocument splits text, embeds the chunks and stores them under
// namespace. It returns the number of chunks written.
func (ix *Index) IndexDocument(ctx context.Context, namespace, text string) (int, error) {
	if namespace == "" {
		return 0, fmt.Errorf("namespace is required")
	}
	pieces := ix.chunker.Split(text)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("document %s has no text to index", namespace)
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{ChunkID: hashChunk(namespace, i), Namespace: namespace, Seq: i, Text: p}
	}

	vectors, dim, err := ix.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.InsertChunks(ctx, chunks, vectors, dim); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	if err := ix.bm25.BatchIndex(chunks); err != nil {
		return 0, fmt.Errorf("bm25 index: %w", err)
	}

	ix.log.Debug("document indexed",
		zap.String("namespace", namespace),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Search finds the top k passages for query, combining BM25 and vector
// rankings with Reciprocal Rank Fusion. When one half fails the other is
// used alone.
func (ix *Index) Search(ctx context.Context, query, namespace string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 4
	}

	bm25Results, bm25Err := ix.bm25.Search(query, namespace, nBM25)
	if bm25Err != nil {
		ix.log.Warn("bm25 search failed", zap.Error(bm25Err))
		bm25Results = nil
	}

	vecResults, vecErr := ix.searchEmbeddings(ctx, query, namespace, nVec)
	if vecErr != nil {
		ix.log.Warn("embedding search failed", zap.Error(vecErr))
		vecResults = nil
	}

	if bm25Err != nil && vecErr != nil {
		return nil, fmt.Errorf("search failed: bm25: %v; embeddings: %w", bm25Err, vecErr)
	}

	type fused struct {
		chunkID string
		score   float64
		bm25    bool
		vec     bool
	}
	scores := make(map[string]*fused)
	get := func(id string) *fused {
		f, ok := scores[id]
		if !ok {
			f = &fused{chunkID: id}
			scores[id] = f
		}
		return f
	}
	for i, r := range bm25Results {
		f := get(r.ChunkID)
		f.score += 1.0 / (rrfOffset + float64(i+1))
		f.bm25 = true
	}
	texts := make(map[string]Chunk, len(vecResults))
	for i, r := range vecResults {
		f := get(r.chunk.ChunkID)
		f.score += 1.0 / (rrfOffset + float64(i+1))
		f.vec = true
		texts[r.chunk.ChunkID] = r.chunk
	}

	ranked := make([]*fused, 0, len(scores))
	for _, f := range scores {
		ranked = append(ranked, f)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].chunkID < ranked[j].chunkID
		}
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	hits := make([]Hit, 0, len(ranked))
	for _, f := range ranked {
		c, ok := texts[f.chunkID]
		if !ok {
			got, err := ix.db.GetChunk(ctx, f.chunkID)
			if err != nil {
				ix.log.Warn("failed to fetch chunk", zap.String("chunk_id", f.chunkID), zap.Error(err))
				continue
			}
			c = *got
		}
		reason := "rrf(bm25+vec)"
		switch {
		case f.bm25 && !f.vec:
			reason = "bm25_only"
		case f.vec && !f.bm25:
			reason = "embedding_only"
		}
		hits = append(hits, Hit{
			ChunkID:   c.ChunkID,
			Namespace: c.Namespace,
			Text:      c.Text,
			Score:     f.score,
			Reason:    reason,
		})
	}
	return hits, nil
}

// MatchCandidates ranks documents against text. Each namespace keeps its best
// passage score; ties break on namespace for a stable order.
func (ix *Index) MatchCandidates(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 4
	}
	hits, err := ix.Search(ctx, text, "", limit*8)
	if err != nil {
		return nil, err
	}

	best := make(map[string]float64)
	for _, h := range hits {
		if s, ok := best[h.Namespace]; !ok || h.Score > s {
			best[h.Namespace] = h.Score
		}
	}
	matches := make([]Match, 0, len(best))
	for ns, s := range best {
		matches = append(matches, Match{Namespace: ns, Score: s})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Namespace < matches[j].Namespace
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DeleteNamespace removes a document from both halves of the index.
func (ix *Index) DeleteNamespace(ctx context.Context, namespace string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids, err := ix.db.ChunkIDs(ctx, namespace)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(ids) > 0 {
		if err := ix.bm25.DeleteChunks(ids); err != nil {
			return fmt.Errorf("bm25 delete: %w", err)
		}
	}
	return ix.db.DeleteNamespace(ctx, namespace)
}

// Close closes the index.
func (ix *Index) Close() error {
	bErr := ix.bm25.Close()
	dErr := ix.db.Close()
	if bErr != nil {
		return bErr
	}
	return dErr
}

// scoredChunk is used for embedding search results.
type scoredChunk struct {
	chunk Chunk
	score float64
}

// searchEmbeddings performs embedding-based semantic search.
func (ix *Index) searchEmbeddings(ctx context.Context, query, namespace string, k int) ([]scoredChunk, error) {
	queryVec, _, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVector, err := DecodeVector(queryVec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode query vector: %w", err)
	}

	candidates, err := ix.db.embeddedChunks(ctx, namespace, maxVectorScan)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidates: %w", err)
	}

	scored := make([]scoredChunk, 0, len(candidates))
	for _, c := range candidates {
		v, err := DecodeVector(c.vector)
		if err != nil {
			continue
		}
		sim := cosineSimilarity(queryVector, v)
		if sim <= 0 {
			continue
		}
		scored = append(scored, scoredChunk{chunk: c.chunk, score: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
