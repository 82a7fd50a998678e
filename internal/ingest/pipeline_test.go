package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cvagent/internal/blob"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

// sectionLLM answers each forced tool call with a canned payload and plain
// chat calls with an overview.
type sectionLLM struct {
	mu       sync.Mutex
	payloads map[string]map[string]any
	fail     map[string]error
	calls    []string
}

func (l *sectionLLM) Chat(_ context.Context, _ string, _ []engine.ChatMessage, _ []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, opts.ToolChoice)
	if err := l.fail[opts.ToolChoice]; err != nil {
		return engine.LLMResponse{}, err
	}
	if opts.ToolChoice == "" {
		return engine.LLMResponse{Assistant: engine.ChatMessage{Role: engine.RoleAssistant, Content: "Purpose: resume\n"}}, nil
	}
	return engine.LLMResponse{ToolCalls: []engine.ToolCall{{ID: "c1", Name: opts.ToolChoice, Args: l.payloads[opts.ToolChoice]}}}, nil
}

func goodPayloads() map[string]map[string]any {
	return map[string]map[string]any{
		"record_candidate": {"email": " Ada@Example.com ", "full_name": "Ada Lovelace", "country": "UK"},
		"record_educations": {"education_entries": []any{
			map[string]any{"institution": "University of London", "degree": "BSc"},
		}},
		"record_experiences": {"experiences": []any{
			map[string]any{"company_name": "Analytical Engines Ltd", "role": "Engineer"},
		}},
		"record_projects":       {"projects": []any{}},
		"record_certifications": {"certifications": []any{}},
		"record_skills": {"skills": []any{
			map[string]any{"name": "Go", "category": "language"},
			map[string]any{"name": "go ", "category": "language"},
			map[string]any{"name": "SQL", "category": "language"},
		}},
	}
}

type fakeIndex struct {
	indexed map[string]string
	deleted []string
	err     error
}

func (f *fakeIndex) IndexDocument(_ context.Context, ns, text string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.indexed[ns] = text
	return 2, nil
}

func (f *fakeIndex) DeleteNamespace(_ context.Context, ns string) error {
	delete(f.indexed, ns)
	f.deleted = append(f.deleted, ns)
	return nil
}

type fakeStore struct {
	saved *store.Candidate
	err   error
}

func (f *fakeStore) CreateCandidate(_ context.Context, c *store.Candidate) (*store.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *c
	out.ID = 42
	f.saved = &out
	return &out, nil
}

type fixedSplitter struct{}

func (fixedSplitter) Split(text string) []string { return strings.Split(text, "\n") }

func docx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type harness struct {
	pipeline *Pipeline
	llm      *sectionLLM
	index    *fakeIndex
	store    *fakeStore
	blobs    *blob.LocalStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	h := &harness{
		llm:   &sectionLLM{payloads: goodPayloads(), fail: map[string]error{}},
		index: &fakeIndex{indexed: map[string]string{}},
		store: &fakeStore{},
		blobs: blobs,
	}
	p, err := NewPipeline(Config{
		LLM:      h.llm,
		Model:    "test-model",
		Index:    h.index,
		Store:    h.store,
		Blobs:    blobs,
		Splitter: fixedSplitter{},
	})
	require.NoError(t, err)
	p.newNamespace = func() (string, error) { return "ns0123456789", nil }
	h.pipeline = p
	return h
}

func TestPipeline_Ingest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.pipeline.Ingest(ctx, "ada.DOCX", docx(t, "Ada Lovelace", "ada@example.com", "Go and SQL"))
	require.NoError(t, err)

	c := res.Candidate
	assert.Equal(t, int64(42), c.ID)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, "Ada Lovelace", c.FullName)
	assert.Equal(t, store.StatusActive, c.Status)
	assert.Equal(t, "ns0123456789", c.EmbeddingsNamespace)
	assert.True(t, strings.HasSuffix(c.ResumeURL, "ns0123456789/resume.docx"))
	assert.Contains(t, c.Content, "Go and SQL")
	require.Len(t, c.Educations, 1)
	assert.Equal(t, "University of London", c.Educations[0].Institution)
	require.Len(t, c.Experiences, 1)
	assert.Len(t, c.Skills, 2, "duplicate skills are merged")
	assert.Equal(t, "Purpose: resume", res.Overview)
	assert.Equal(t, 2, res.Chunks)

	assert.Contains(t, h.index.indexed, "ns0123456789")
	stored, err := h.blobs.Get(ctx, "ns0123456789/resume.docx")
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	// Six forced calls plus the overview.
	assert.Len(t, h.llm.calls, 7)
}

func TestPipeline_RejectsUnsupported(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Ingest(context.Background(), "cv.html", []byte("<html>"))
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Empty(t, h.llm.calls)
}

func TestPipeline_PersistenceFailureRemovesIndex(t *testing.T) {
	h := newHarness(t)
	h.store.err = store.ErrConflict
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, "ada.docx", docx(t, "Ada"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, []string{"ns0123456789"}, h.index.deleted)
	assert.Empty(t, h.index.indexed)

	_, err = h.blobs.Get(ctx, "ns0123456789/resume.docx")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.llm.fail["record_projects"] = errors.New("upstream 500")

	_, err := h.pipeline.Ingest(context.Background(), "ada.docx", docx(t, "Ada"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract projects")
	assert.Nil(t, h.store.saved)
	assert.Equal(t, []string{"ns0123456789"}, h.index.deleted)
}

func TestPipeline_IncompleteProfile(t *testing.T) {
	h := newHarness(t)
	h.llm.payloads["record_candidate"] = map[string]any{"email": "", "full_name": "Nobody"}

	_, err := h.pipeline.Ingest(context.Background(), "x.docx", docx(t, "text"))
	assert.ErrorIs(t, err, ErrIncompleteProfile)
}

func TestPipeline_OverviewFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.llm.fail[""] = errors.New("overview down")

	res, err := h.pipeline.Ingest(context.Background(), "ada.docx", docx(t, "Ada"))
	require.NoError(t, err)
	assert.Empty(t, res.Overview)
	assert.NotNil(t, h.store.saved)
}

func TestExtractText(t *testing.T) {
	t.Run("docx paragraphs", func(t *testing.T) {
		text, err := ExtractText("cv.docx", docx(t, "First", "Second"))
		require.NoError(t, err)
		assert.Equal(t, "First\nSecond", text)
	})
	t.Run("empty docx", func(t *testing.T) {
		_, err := ExtractText("cv.docx", docx(t))
		assert.ErrorIs(t, err, ErrEmptyDocument)
	})
	t.Run("corrupt docx", func(t *testing.T) {
		_, err := ExtractText("cv.docx", []byte("not a zip"))
		assert.Error(t, err)
	})
	t.Run("corrupt pdf", func(t *testing.T) {
		_, err := ExtractText("cv.pdf", []byte("not a pdf"))
		assert.Error(t, err)
	})
	t.Run("unsupported", func(t *testing.T) {
		_, err := ExtractText("cv.txt", []byte("hello"))
		assert.ErrorIs(t, err, ErrUnsupportedFile)
	})
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.pdf"))
	assert.True(t, Supported("A.DOCX"))
	assert.False(t, Supported("a.doc"))
	assert.False(t, Supported("pdf"))
}
