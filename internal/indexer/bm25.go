package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
)

// BM25Result represents a BM25 search result.
type BM25Result struct {
	ChunkID   string
	Score     float64
	Namespace string
}

// BM25Index provides BM25 keyword search over resume chunks.
type BM25Index struct {
	index bleve.Index
	path  string
}

// NewBM25Index creates or opens a BM25 index at path. An unreadable index
// is deleted and recreated; it can be rebuilt from the chunk store.
func NewBM25Index(path string, log *zap.Logger) (*BM25Index, error) {
	if log == nil {
		log = zap.NewNop()
	}

	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create BM25 index: %w", err)
		}
		log.Info("bm25 index created", zap.String("path", path))
	} else if err != nil {
		log.Warn("bm25 index unreadable, recreating", zap.String("path", path), zap.Error(err))
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warn("failed to remove index directory", zap.Error(err))
			if err := os.RemoveAll(filepath.Join(path, "store")); err != nil {
				log.Warn("failed to remove store directory", zap.Error(err))
			}
		}
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate BM25 index: %w", err)
		}
	}

	return &BM25Index{index: index, path: path}, nil
}

// NewMemBM25Index creates a BM25 index that lives only in memory.
func NewMemBM25Index() (*BM25Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory BM25 index: %w", err)
	}
	return &BM25Index{index: index}, nil
}

// buildIndexMapping indexes chunk text with the standard analyzer and keeps
// namespace as an exact-match keyword.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	namespaceField := bleve.NewTextFieldMapping()
	namespaceField.Analyzer = keyword.Name
	namespaceField.Store = true
	namespaceField.Index = true
	chunkMapping.AddFieldMappingsAt("namespace", namespaceField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	textField.Index = true
	chunkMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = chunkMapping
	return indexMapping
}

// BatchIndex indexes multiple chunks in one batch.
func (b *BM25Index) BatchIndex(chunks []Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := map[string]any{
			"namespace": c.Namespace,
			"text":      c.Text,
		}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", c.ChunkID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search performs a BM25 search and returns the top k results. An empty
// namespace searches every document.
func (b *BM25Index) Search(query, namespace string, k int) ([]BM25Result, error) {
	match := bleve.NewMatchQuery(query)
	match.SetField("text")

	req := bleve.NewSearchRequest(match)
	if namespace != "" {
		nsQuery := bleve.NewTermQuery(namespace)
		nsQuery.SetField("namespace")
		req = bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, nsQuery))
	}
	req.Size = k
	req.Fields = []string{"namespace"}

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("BM25 search failed: %w", err)
	}

	results := make([]BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := BM25Result{ChunkID: hit.ID, Score: hit.Score}
		if ns, ok := hit.Fields["namespace"].(string); ok {
			r.Namespace = ns
		}
		results = append(results, r)
	}
	return results, nil
}

// DeleteChunks removes chunks by id.
func (b *BM25Index) DeleteChunks(ids []string) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Close closes the BM25 index.
func (b *BM25Index) Close() error {
	return b.index.Close()
}
