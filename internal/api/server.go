package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/cvagent/internal/checkpoint"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/ingest"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

// CandidateStore reads and updates stored candidates.
type CandidateStore interface {
	GetCandidate(ctx context.Context, id int64) (*store.Candidate, error)
	GetByEmail(ctx context.Context, email string) (*store.Candidate, error)
	ListCandidates(ctx context.Context, page, size int) ([]store.Candidate, error)
	CountCandidates(ctx context.Context) (int, error)
	UpdateCandidate(ctx context.Context, id int64, u store.CandidateUpdate) (*store.Candidate, error)
}

// Ingester turns an uploaded resume into a candidate.
type Ingester interface {
	Ingest(ctx context.Context, filename string, data []byte) (*ingest.Result, error)
}

// AgentService runs agent sessions.
type AgentService interface {
	Query(ctx context.Context, sessionID, message string) (*engine.Result, error)
	Stream(ctx context.Context, sessionID, message string) (<-chan engine.StreamEvent, string, error)
	Answer(ctx context.Context, sessionID, answer string) (*engine.Result, error)
	Session(ctx context.Context, sessionID string) (*engine.ConversationState, error)
	Sessions(ctx context.Context) ([]checkpoint.Meta, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Config holds the HTTP layer settings.
type Config struct {
	MaxUploadBytes int64
	RateLimit      int
	RateWindow     time.Duration
}

// Server holds the handler dependencies.
type Server struct {
	candidates CandidateStore
	ingester   Ingester
	agent      AgentService
	metrics    http.Handler
	observer   HTTPObserver
	limiter    *RateLimiter
	cfg        Config
	log        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h at /metrics and reports requests to obs.
func WithMetrics(h http.Handler, obs HTTPObserver) Option {
	return func(s *Server) {
		s.metrics = h
		s.observer = obs
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a server. Rate limiting is disabled when cfg.RateLimit
// is zero.
func NewServer(candidates CandidateStore, ingester Ingester, agentSvc AgentService, cfg Config, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		candidates: candidates,
		ingester:   ingester,
		agent:      agentSvc,
		cfg:        cfg,
		log:        zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log, s.observer))
	r.Use(middleware.Recoverer)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}

			r.Route("/candidates", func(r chi.Router) {
				r.Post("/", s.uploadCandidate)
				r.Get("/", s.listCandidates)
				r.Get("/email/{email}", s.getCandidateByEmail)
				r.Get("/{id}", s.getCandidate)
				r.Put("/{id}", s.updateCandidate)
			})

			r.Route("/agent", func(r chi.Router) {
				r.Post("/query", s.query)
				r.Post("/stream", s.stream)
				r.Get("/sessions", s.listSessions)
				r.Get("/sessions/{id}", s.getSession)
				r.Delete("/sessions/{id}", s.deleteSession)
				r.Post("/sessions/{id}/answer", s.answer)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotFound, "NotFoundError", "The requested resource was not found.", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not allowed.", r.Method)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	OK(w, http.StatusOK, map[string]string{"status": "ok"}, "Service is healthy")
}

// fail logs err and writes the mapped error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	m := classify(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("error_type", m.errorType),
		zap.Error(err),
	}
	if m.status >= 500 {
		s.log.Error("handler error", fields...)
	} else {
		s.log.Debug("handler rejected request", fields...)
	}
	Error(w, m.status, m.errorType, m.message, err.Error())
}
