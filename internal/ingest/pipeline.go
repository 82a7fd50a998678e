// Package ingest turns an uploaded resume into an indexed, persisted
// candidate.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ChamsBouzaiene/cvagent/internal/blob"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/prompts"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

// ErrIncompleteProfile is returned when the resume yields no email or name.
var ErrIncompleteProfile = errors.New("resume has no candidate email or name")

// overviewChunks is how many leading chunks feed the document overview.
const overviewChunks = 4

// DocumentIndex is the part of the resume index the pipeline writes to.
type DocumentIndex interface {
	IndexDocument(ctx context.Context, namespace, text string) (int, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// CandidateStore persists extracted candidates.
type CandidateStore interface {
	CreateCandidate(ctx context.Context, c *store.Candidate) (*store.Candidate, error)
}

// Splitter splits text into passages; the overview reads the first few.
type Splitter interface {
	Split(text string) []string
}

// Observer receives pipeline timings. It may be nil.
type Observer interface {
	ObserveIngest(outcome string, d time.Duration)
}

// Config configures a Pipeline.
type Config struct {
	LLM             engine.LLMClient
	Model           string
	Temperature     float32
	MaxOutputTokens int

	Index    DocumentIndex
	Store    CandidateStore
	Blobs    blob.Store
	Splitter Splitter
	Logger   *zap.Logger
	Observer Observer
}

// Result is the outcome of one ingestion.
type Result struct {
	Candidate *store.Candidate `json:"candidate"`
	Overview  string           `json:"overview"`
	Chunks    int              `json:"chunks"`
}

// Pipeline extracts, indexes and persists resumes.
type Pipeline struct {
	cfg          Config
	log          *zap.Logger
	newNamespace func() (string, error)
}

// NewPipeline validates cfg and builds a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.LLM == nil {
		return nil, errors.New("ingest: LLM client is required")
	}
	if cfg.Index == nil || cfg.Store == nil || cfg.Blobs == nil {
		return nil, errors.New("ingest: index, store and blob store are required")
	}
	if cfg.Splitter == nil {
		return nil, errors.New("ingest: splitter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger, newNamespace: randomNamespace}, nil
}

// randomNamespace returns 10 random bytes as hex.
func randomNamespace() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate namespace: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IngestFile reads path and ingests it. Used by the inbox watcher and CLI.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.Ingest(ctx, filepath.Base(path), data)
}

// Ingest runs the whole pipeline for one uploaded file.
func (p *Pipeline) Ingest(ctx context.Context, filename string, data []byte) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if p.cfg.Observer != nil {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			p.cfg.Observer.ObserveIngest(outcome, time.Since(start))
		}
	}()

	if !Supported(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filename)
	}
	ext := strings.ToLower(filepath.Ext(filename))

	text, err := ExtractText(filename, data)
	if err != nil {
		return nil, err
	}

	namespace, err := p.newNamespace()
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("file", filename), zap.String("namespace", namespace))
	log.Info("ingesting resume", zap.Int("bytes", len(data)), zap.Int("text_chars", len(text)))

	blobKey := namespace + "/resume" + ext
	resumeURL, err := p.cfg.Blobs.Put(ctx, blobKey, data, contentTypes[ext])
	if err != nil {
		return nil, fmt.Errorf("store resume file: %w", err)
	}

	chunks, err := p.cfg.Index.IndexDocument(ctx, namespace, text)
	if err != nil {
		p.discardBlob(log, blobKey)
		return nil, fmt.Errorf("index resume: %w", err)
	}
	log.Info("resume indexed", zap.Int("chunks", chunks))

	candidate, err := p.extract(ctx, text)
	if err != nil {
		p.rollback(log, namespace, blobKey)
		return nil, err
	}
	candidate.EmbeddingsNamespace = namespace
	candidate.ResumeURL = resumeURL
	candidate.Status = store.StatusActive
	candidate.Content = text

	saved, err := p.cfg.Store.CreateCandidate(ctx, candidate)
	if err != nil {
		p.rollback(log, namespace, blobKey)
		return nil, fmt.Errorf("persist candidate: %w", err)
	}
	log.Info("candidate created", zap.Int64("candidate_id", saved.ID))

	overview, err := p.overview(ctx, text)
	if err != nil {
		// The candidate is already stored; a missing overview is not fatal.
		log.Warn("document overview failed", zap.Error(err))
	}

	return &Result{Candidate: saved, Overview: overview, Chunks: chunks}, nil
}

func (p *Pipeline) rollback(log *zap.Logger, namespace, blobKey string) {
	// The request context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.cfg.Index.DeleteNamespace(ctx, namespace); err != nil {
		log.Error("failed to remove index entries", zap.Error(err))
	}
	p.discardBlob(log, blobKey)
}

func (p *Pipeline) discardBlob(log *zap.Logger, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.cfg.Blobs.Delete(ctx, key); err != nil {
		log.Warn("failed to remove stored resume", zap.Error(err))
	}
}

// extract runs one structured call per section concurrently.
func (p *Pipeline) extract(ctx context.Context, text string) (*store.Candidate, error) {
	var (
		profile        profileOutput
		educations     educationsOutput
		experiences    experiencesOutput
		projects       projectsOutput
		certifications certificationsOutput
		skills         skillsOutput
	)
	outputs := map[Section]any{
		SectionProfile:        &profile,
		SectionEducations:     &educations,
		SectionExperiences:    &experiences,
		SectionProjects:       &projects,
		SectionCertifications: &certifications,
		SectionSkills:         &skills,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, section := range Sections {
		section := section
		g.Go(func() error {
			if err := p.extractSection(gctx, section, text, outputs[section]); err != nil {
				return fmt.Errorf("extract %s: %w", section, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(profile.Email) == "" || strings.TrimSpace(profile.FullName) == "" {
		return nil, ErrIncompleteProfile
	}

	return &store.Candidate{
		Email:          strings.ToLower(strings.TrimSpace(profile.Email)),
		FullName:       strings.TrimSpace(profile.FullName),
		Country:        profile.Country,
		Location:       profile.Location,
		Phone:          profile.Phone,
		Educations:     educations.Entries,
		Experiences:    experiences.Entries,
		Projects:       projects.Entries,
		Certifications: certifications.Entries,
		Skills:         dedupeSkills(skills.Entries),
	}, nil
}

func (p *Pipeline) extractSection(ctx context.Context, section Section, text string, out any) error {
	prompt, err := prompts.Render(prompts.IDExtraction, map[string]string{
		"section": string(section),
		"resume":  text,
	})
	if err != nil {
		return err
	}
	messages := []engine.ChatMessage{{Role: engine.RoleUser, Content: prompt}}
	opts := engine.ChatOptions{Temperature: p.cfg.Temperature, MaxOutputTokens: p.cfg.MaxOutputTokens}
	return engine.CallStructured(ctx, p.cfg.LLM, p.cfg.Model, messages, sectionSchemas[section], opts, out)
}

// overview summarizes the first few chunks of the document.
func (p *Pipeline) overview(ctx context.Context, text string) (string, error) {
	pieces := p.cfg.Splitter.Split(text)
	if len(pieces) > overviewChunks {
		pieces = pieces[:overviewChunks]
	}
	prompt, err := prompts.Render(prompts.IDOverview, map[string]string{
		"context": strings.Join(pieces, "\n\n"),
	})
	if err != nil {
		return "", err
	}
	resp, err := p.cfg.LLM.Chat(ctx, p.cfg.Model,
		[]engine.ChatMessage{{Role: engine.RoleUser, Content: prompt}}, nil,
		engine.ChatOptions{Temperature: p.cfg.Temperature, MaxOutputTokens: p.cfg.MaxOutputTokens})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Assistant.Content), nil
}

// dedupeSkills drops repeated names, case-insensitively, keeping the first.
func dedupeSkills(in []store.Skill) []store.Skill {
	seen := make(map[string]bool, len(in))
	out := make([]store.Skill, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		s.Name = strings.TrimSpace(s.Name)
		out = append(out, s)
	}
	return out
}
