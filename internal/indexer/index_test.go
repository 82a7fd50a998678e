package indexer

import (
	"context"
	"math"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(context.Background(), Config{
		Dir:      t.TempDir(),
		Chunker:  NewRecursiveChunker(200, 20),
		Embedder: NewHashEmbedder(256),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestIndex_SearchWithinNamespace(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t)

	docs := map[string]string{
		"alice": "Senior Go engineer. Built Kafka pipelines and PostgreSQL services at scale.",
		"bob":   "Pastry chef with ten years of experience in French bakeries.",
	}
	for ns, text := range docs {
		n, err := ix.IndexDocument(ctx, ns, text)
		if err != nil {
			t.Fatalf("IndexDocument(%s) error = %v", ns, err)
		}
		if n != 1 {
			t.Fatalf("IndexDocument(%s) = %d chunks, want 1", ns, n)
		}
	}

	hits, err := ix.Search(ctx, "kafka postgresql", "alice", 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits for alice")
	}
	for _, h := range hits {
		if h.Namespace != "alice" {
			t.Errorf("hit from namespace %q leaked into alice search", h.Namespace)
		}
	}
	if hits[0].Reason != "rrf(bm25+vec)" {
		t.Errorf("top hit reason = %q, want rrf(bm25+vec)", hits[0].Reason)
	}

	hits, err = ix.Search(ctx, "kafka postgresql", "bob", 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, h := range hits {
		if h.Namespace != "bob" {
			t.Errorf("hit from namespace %q leaked into bob search", h.Namespace)
		}
	}
}

func TestIndex_MatchCandidates(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t)

	docs := map[string]string{
		"ns-go":     "Go developer. Microservices, gRPC, Kubernetes, PostgreSQL.",
		"ns-chef":   "Chef. Bread, croissants, pastry, catering.",
		"ns-python": "Python data scientist. Pandas, machine learning, PostgreSQL.",
	}
	for ns, text := range docs {
		if _, err := ix.IndexDocument(ctx, ns, text); err != nil {
			t.Fatalf("IndexDocument(%s) error = %v", ns, err)
		}
	}

	matches, err := ix.MatchCandidates(ctx, "Looking for a Go developer with Kubernetes", 2)
	if err != nil {
		t.Fatalf("MatchCandidates() error = %v", err)
	}
	if len(matches) == 0 || len(matches) > 2 {
		t.Fatalf("MatchCandidates() returned %d matches, want 1..2", len(matches))
	}
	if matches[0].Namespace != "ns-go" {
		t.Errorf("best match = %q, want ns-go", matches[0].Namespace)
	}
	seen := map[string]bool{}
	for i, m := range matches {
		if seen[m.Namespace] {
			t.Errorf("namespace %q listed twice", m.Namespace)
		}
		seen[m.Namespace] = true
		if i > 0 && m.Score > matches[i-1].Score {
			t.Errorf("matches not sorted by score at %d", i)
		}
	}
}

func TestIndex_DeleteNamespace(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t)

	if _, err := ix.IndexDocument(ctx, "gone", "Rust systems programmer, embedded firmware."); err != nil {
		t.Fatalf("IndexDocument() error = %v", err)
	}
	if err := ix.DeleteNamespace(ctx, "gone"); err != nil {
		t.Fatalf("DeleteNamespace() error = %v", err)
	}

	hits, err := ix.Search(ctx, "rust firmware", "", 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits after delete, got %+v", hits)
	}
	ids, err := ix.db.ChunkIDs(ctx, "gone")
	if err != nil {
		t.Fatalf("ChunkIDs() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("chunks remain after delete: %v", ids)
	}
}

func TestIndex_IndexDocumentErrors(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t)

	if _, err := ix.IndexDocument(ctx, "", "text"); err == nil {
		t.Error("expected error for empty namespace")
	}
	if _, err := ix.IndexDocument(ctx, "ns", "  \n "); err == nil {
		t.Error("expected error for empty document")
	}
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(64)

	a, dim, err := e.Embed(ctx, "Go Kafka")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if dim != 64 {
		t.Errorf("dim = %d, want 64", dim)
	}
	b, _, _ := e.Embed(ctx, "go kafka")
	va, _ := DecodeVector(a)
	vb, _ := DecodeVector(b)
	if sim := cosineSimilarity(va, vb); math.Abs(sim-1) > 1e-6 {
		t.Errorf("case-folded texts similarity = %f, want 1", sim)
	}

	var norm float64
	for _, x := range va {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector norm = %f, want 1", norm)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := DecodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated vector")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}
