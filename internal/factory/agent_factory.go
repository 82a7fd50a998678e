// Package factory assembles the application from its configuration.
package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/cvagent/internal/agent"
	"github.com/ChamsBouzaiene/cvagent/internal/api"
	"github.com/ChamsBouzaiene/cvagent/internal/blob"
	"github.com/ChamsBouzaiene/cvagent/internal/checkpoint"
	"github.com/ChamsBouzaiene/cvagent/internal/config"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/inbox"
	"github.com/ChamsBouzaiene/cvagent/internal/indexer"
	"github.com/ChamsBouzaiene/cvagent/internal/ingest"
	"github.com/ChamsBouzaiene/cvagent/internal/logging"
	"github.com/ChamsBouzaiene/cvagent/internal/metrics"
	"github.com/ChamsBouzaiene/cvagent/internal/providers"
	"github.com/ChamsBouzaiene/cvagent/internal/sqldb"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
	"github.com/ChamsBouzaiene/cvagent/internal/tools"
)

// App holds every long-lived component built from one Config.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	DB          *sqldb.DB
	Candidates  *store.Repository
	Index       *indexer.Index
	Checkpoints checkpoint.Store
	Blobs       blob.Store
	LLM         engine.LLMClient
	Metrics     *metrics.Metrics
	Pipeline    *ingest.Pipeline

	closers []func() error
}

// New opens the backends and builds the shared components. Close releases
// them.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{Config: cfg, Log: log, Metrics: metrics.New(prometheus.NewRegistry())}
	if err := app.open(ctx); err != nil {
		if cerr := app.Close(); cerr != nil {
			log.Warn("failed to release partially opened backends", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context) (err error) {
	cfg, log := a.Config, a.Log

	if a.DB, err = sqldb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return err
	}
	a.closers = append(a.closers, a.DB.Close)
	if err = store.Migrate(ctx, a.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Candidates = store.NewRepository(a.DB)

	if a.Index, err = indexer.Open(ctx, indexer.Config{
		Dir:      cfg.Index.Dir,
		Chunker:  indexer.NewRecursiveChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		Embedder: newEmbedder(cfg.Embeddings),
		Logger:   logging.WithComponent(log, "indexer"),
	}); err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	a.closers = append(a.closers, a.Index.Close)

	if a.Checkpoints, err = newCheckpointStore(ctx, cfg.Checkpoint, a.DB); err != nil {
		return err
	}
	if a.Blobs, err = newBlobStore(ctx, cfg.Blob); err != nil {
		return err
	}

	llm, err := providers.New(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	a.LLM = a.Metrics.InstrumentLLM(llm, cfg.LLM.Provider)

	if a.Pipeline, err = ingest.NewPipeline(ingest.Config{
		LLM:             a.LLM,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Index:           a.Index,
		Store:           a.Candidates,
		Blobs:           a.Blobs,
		Splitter:        indexer.NewRecursiveChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		Logger:          logging.WithComponent(log, "ingest"),
		Observer:        a.Metrics,
	}); err != nil {
		return err
	}

	log.Info("application ready",
		zap.String("database", a.DB.Dialect().DisplayName()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("blob_backend", cfg.Blob.Backend))
	return nil
}

func newEmbedder(cfg config.EmbeddingsConfig) indexer.Embedder {
	if cfg.Provider == "openai" {
		return indexer.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension)
	}
	return indexer.NewHashEmbedder(cfg.Dimension)
}

func newCheckpointStore(ctx context.Context, cfg config.CheckpointConfig, db *sqldb.DB) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "redis":
		return checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	case "file":
		return checkpoint.NewFileStore(cfg.Dir)
	default:
		return checkpoint.NewSQLStore(ctx, db)
	}
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	if cfg.Backend == "s3" {
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	}
	return blob.NewLocalStore(cfg.Dir)
}

// NewController builds a controller whose ask_human tool uses asker.
// HTTP sessions pass tools.PendingAsker so questions suspend the run.
func (a *App) NewController(asker tools.Asker) (*engine.Controller, error) {
	cfg := a.Config
	toolset := &tools.Toolset{
		DB:              a.DB,
		Matcher:         a.Index,
		Asker:           asker,
		MaxRows:         cfg.Agent.MaxRows,
		MatchLimit:      cfg.Index.TopK,
		MaxOutputTokens: cfg.Agent.ToolTokens,
		Tokenizer:       engine.GetTokenizerForModel(cfg.LLM.Model),
	}

	return engine.NewControllerBuilder().
		WithConfig(engine.ControllerConfig{
			Model:           cfg.LLM.Model,
			RetryCap:        cfg.Agent.RetryCap,
			MaxActTurns:     cfg.Agent.MaxActTurns,
			StageTimeout:    cfg.Agent.StageTimeout,
			Temperature:     cfg.LLM.Temperature,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Dialect:         a.DB.Dialect().DisplayName(),
		}).
		WithLLM(a.LLM).
		WithToolRegistry(toolset.Registry()).
		WithCheckpointer(a.Checkpoints).
		WithLogger(logging.WithComponent(a.Log, "engine")).
		WithHooks(a.Metrics.Hook()).
		Build()
}

// NewAgentService builds the session service on a controller using asker.
func (a *App) NewAgentService(asker tools.Asker) (*agent.Service, error) {
	ctrl, err := a.NewController(asker)
	if err != nil {
		return nil, err
	}
	return agent.NewService(ctrl, a.Checkpoints, logging.WithComponent(a.Log, "agent")), nil
}

// NewServer builds the HTTP API over suspendable sessions.
func (a *App) NewServer() (*api.Server, error) {
	svc, err := a.NewAgentService(tools.PendingAsker{})
	if err != nil {
		return nil, err
	}
	cfg := a.Config.Server
	return api.NewServer(a.Candidates, a.Pipeline, svc, api.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateWindow,
	},
		api.WithLogger(logging.WithComponent(a.Log, "http")),
		api.WithMetrics(a.Metrics.Handler(), a.Metrics),
	), nil
}

// NewInbox returns a watcher that ingests resumes dropped into the
// configured inbox directory, or nil when none is configured.
func (a *App) NewInbox() (*inbox.Watcher, error) {
	dir := a.Config.Ingest.InboxDir
	if dir == "" {
		return nil, nil
	}
	handler := func(ctx context.Context, path string) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		res, err := a.Pipeline.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		a.Log.Info("inbox candidate created",
			zap.Int64("candidate_id", res.Candidate.ID),
			zap.String("email", res.Candidate.Email))
		return nil
	}
	return inbox.New(dir, handler, inbox.WithLogger(logging.WithComponent(a.Log, "inbox")))
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
