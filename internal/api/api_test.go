package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cvagent/internal/agent"
	"github.com/ChamsBouzaiene/cvagent/internal/checkpoint"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/ingest"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

type fakeCandidates struct {
	byID    map[int64]*store.Candidate
	updates []store.CandidateUpdate
	emails  []string
	pages   [][2]int
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{byID: map[int64]*store.Candidate{
		1: {ID: 1, Email: "ada@example.com", FullName: "Ada Lovelace", Status: store.StatusActive},
		2: {ID: 2, Email: "alan@example.com", FullName: "Alan Turing", Status: store.StatusActive},
	}}
}

func (f *fakeCandidates) GetCandidate(_ context.Context, id int64) (*store.Candidate, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("candidate id=%d: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCandidates) GetByEmail(_ context.Context, email string) (*store.Candidate, error) {
	f.emails = append(f.emails, email)
	for _, c := range f.byID {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeCandidates) ListCandidates(_ context.Context, page, size int) ([]store.Candidate, error) {
	f.pages = append(f.pages, [2]int{page, size})
	if page > 1 {
		return nil, nil
	}
	return []store.Candidate{*f.byID[1], *f.byID[2]}, nil
}

func (f *fakeCandidates) CountCandidates(context.Context) (int, error) { return 21, nil }

func (f *fakeCandidates) UpdateCandidate(_ context.Context, id int64, u store.CandidateUpdate) (*store.Candidate, error) {
	f.updates = append(f.updates, u)
	c, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *c
	if u.FullName != nil {
		out.FullName = *u.FullName
	}
	if u.Email != nil {
		out.Email = *u.Email
	}
	return &out, nil
}

type fakeIngester struct {
	filename string
	size     int
	err      error
}

func (f *fakeIngester) Ingest(_ context.Context, filename string, data []byte) (*ingest.Result, error) {
	f.filename, f.size = filename, len(data)
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{
		Candidate: &store.Candidate{ID: 7, Email: "grace@example.com", FullName: "Grace Hopper"},
		Overview:  "Purpose: resume",
		Chunks:    3,
	}, nil
}

type fakeAgent struct {
	mu       sync.Mutex
	queryErr error
	events   []engine.StreamEvent
	sessions map[string]*engine.ConversationState
	answered []string
}

func (f *fakeAgent) Query(_ context.Context, sessionID, message string) (*engine.Result, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if strings.TrimSpace(message) == "" {
		return nil, agent.ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = "generated"
	}
	return &engine.Result{SessionID: sessionID, RunID: "run-1", Status: engine.StatusCompleted,
		Answer: "Ada knows Go.", Accepted: true}, nil
}

func (f *fakeAgent) Stream(_ context.Context, sessionID, message string) (<-chan engine.StreamEvent, string, error) {
	if strings.TrimSpace(message) == "" {
		return nil, "", agent.ErrEmptyMessage
	}
	if st, ok := f.sessions[sessionID]; ok && st.Suspended() {
		return nil, "", agent.ErrAwaitingHuman
	}
	ch := make(chan engine.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, "s-stream", nil
}

func (f *fakeAgent) Answer(_ context.Context, sessionID, answer string) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.sessions[sessionID]
	if !ok {
		return nil, agent.ErrSessionNotFound
	}
	if !st.Suspended() {
		return nil, engine.ErrNotSuspended
	}
	f.answered = append(f.answered, answer)
	return &engine.Result{SessionID: sessionID, RunID: st.RunID, Status: engine.StatusCompleted, Answer: "done"}, nil
}

func (f *fakeAgent) Session(_ context.Context, sessionID string) (*engine.ConversationState, error) {
	if err := checkpoint.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	st, ok := f.sessions[sessionID]
	if !ok {
		return nil, agent.ErrSessionNotFound
	}
	return st, nil
}

func (f *fakeAgent) Sessions(context.Context) ([]checkpoint.Meta, error) {
	var out []checkpoint.Meta
	for _, st := range f.sessions {
		out = append(out, checkpoint.MetaOf(st))
	}
	return out, nil
}

func (f *fakeAgent) DeleteSession(_ context.Context, sessionID string) error {
	if _, ok := f.sessions[sessionID]; !ok {
		return agent.ErrSessionNotFound
	}
	delete(f.sessions, sessionID)
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
}

func (o *recordingObserver) ObserveHTTP(method, route string, code int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, fmt.Sprintf("%s %s %d", method, route, code))
}

type harness struct {
	candidates *fakeCandidates
	ingester   *fakeIngester
	agent      *fakeAgent
	observer   *recordingObserver
	handler    http.Handler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	suspended := engine.NewConversationState("waiting")
	suspended.RunID = "run-9"
	suspended.Stage = engine.StageAct
	suspended.Messages = []engine.ChatMessage{{Role: engine.RoleUser, Content: "Who knows Go?"}}
	suspended.Pending = &engine.PendingQuestion{CallID: "c1", Question: "Which seniority?"}

	h := &harness{
		candidates: newFakeCandidates(),
		ingester:   &fakeIngester{},
		agent: &fakeAgent{sessions: map[string]*engine.ConversationState{
			"waiting": suspended,
			"idle":    engine.NewConversationState("idle"),
		}},
		observer: &recordingObserver{},
	}
	srv := NewServer(h.candidates, h.ingester, h.agent, cfg,
		WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "# metrics")
		}), h.observer))
	h.handler = srv.Router()
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestListCandidates(t *testing.T) {
	h := newHarness(t, Config{})

	rec := h.do(t, http.MethodGet, "/api/v1/candidates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 10, body["size"])
	assert.EqualValues(t, 21, body["total"])
	assert.EqualValues(t, 3, body["pages"])
	assert.Len(t, body["data"], 2)

	rec = h.do(t, http.MethodGet, "/api/v1/candidates?page=3&size=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.EqualValues(t, 5, body["pages"])
	assert.Equal(t, []any{}, body["data"])
	assert.Equal(t, [2]int{3, 5}, h.candidates.pages[1])

	tests := []string{"?size=101", "?size=0", "?page=0", "?page=abc"}
	for _, q := range tests {
		t.Run(q, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, "/api/v1/candidates"+q, "")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, "ValidationError", decode(t, rec)["error_type"])
		})
	}
}

func TestGetCandidate(t *testing.T) {
	h := newHarness(t, Config{})
	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/candidates/1", http.StatusOK},
		{"/api/v1/candidates/99", http.StatusNotFound},
		{"/api/v1/candidates/abc", http.StatusBadRequest},
		{"/api/v1/candidates/email/ADA@example.com", http.StatusOK},
		{"/api/v1/candidates/email/nobody@example.com", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, "ada@example.com", h.candidates.emails[0])
}

func TestUpdateCandidate(t *testing.T) {
	h := newHarness(t, Config{})

	rec := h.do(t, http.MethodPut, "/api/v1/candidates/1", `{"full_name":"Augusta Ada King","email":" ADA@King.org "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "Augusta Ada King", data["full_name"])
	assert.Equal(t, "ada@king.org", data["email"])

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"empty update", "/api/v1/candidates/1", `{}`, http.StatusUnprocessableEntity},
		{"blank email", "/api/v1/candidates/1", `{"email":"  "}`, http.StatusUnprocessableEntity},
		{"unknown field", "/api/v1/candidates/1", `{"salary":1}`, http.StatusBadRequest},
		{"malformed", "/api/v1/candidates/1", `{"full_name":`, http.StatusBadRequest},
		{"missing", "/api/v1/candidates/99", `{"full_name":"X"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, "error", decode(t, rec)["status"])
		})
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadCandidate(t *testing.T) {
	upload := func(h *harness, field, filename string, content []byte) *httptest.ResponseRecorder {
		body, ctype := multipartBody(t, field, filename, content)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/candidates", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("created", func(t *testing.T) {
		h := newHarness(t, Config{})
		rec := upload(h, "file", "grace.pdf", []byte("%PDF-1.4 resume"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "grace.pdf", h.ingester.filename)
		assert.Equal(t, 15, h.ingester.size)
		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, "Purpose: resume", data["overview"])
	})
	t.Run("missing file field", func(t *testing.T) {
		h := newHarness(t, Config{})
		rec := upload(h, "resume", "grace.pdf", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("unsupported type", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.ingester.err = fmt.Errorf("%w: cv.txt", ingest.ErrUnsupportedFile)
		rec := upload(h, "file", "cv.txt", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("incomplete profile", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.ingester.err = ingest.ErrIncompleteProfile
		rec := upload(h, "file", "cv.pdf", []byte("x"))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
	t.Run("duplicate email", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.ingester.err = fmt.Errorf("persist candidate: %w", store.ErrConflict)
		rec := upload(h, "file", "cv.pdf", []byte("x"))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
	t.Run("too large", func(t *testing.T) {
		h := newHarness(t, Config{MaxUploadBytes: 512})
		rec := upload(h, "file", "cv.pdf", bytes.Repeat([]byte("a"), 4096))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, h.ingester.filename)
	})
}

func TestQuery(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodPost, "/api/v1/agent/query", `{"message":"Who knows Go?","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "ai", data["type"])
	assert.Equal(t, "Ada knows Go.", data["content"])
	assert.Equal(t, "s1", data["session_id"])
	assert.Equal(t, "completed", data["status"])
	assert.NotContains(t, data, "question")

	tests := []struct {
		name string
		err  error
		body string
		code int
	}{
		{"empty message", nil, `{"message":"  "}`, http.StatusBadRequest},
		{"awaiting human", agent.ErrAwaitingHuman, `{"message":"hi"}`, http.StatusConflict},
		{"invalid session", fmt.Errorf("%w %q", checkpoint.ErrInvalidSessionID, "../x"), `{"message":"hi"}`, http.StatusBadRequest},
		{"service failure", &engine.ServiceError{Stage: engine.StageDecide, Err: fmt.Errorf("upstream")}, `{"message":"hi"}`, http.StatusBadGateway},
		{"service timeout", &engine.ServiceError{Stage: engine.StagePlan, Timeout: true, Err: context.DeadlineExceeded}, `{"message":"hi"}`, http.StatusGatewayTimeout},
		{"unexpected", fmt.Errorf("disk on fire"), `{"message":"hi"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.agent.queryErr = tt.err
			rec := h.do(t, http.MethodPost, "/api/v1/agent/query", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestStream(t *testing.T) {
	h := newHarness(t, Config{})
	h.agent.events = []engine.StreamEvent{
		{Kind: engine.KindStage, Stage: engine.StageDecide, RunID: "r1"},
		{Kind: engine.KindMessage, Stage: engine.StageDecide, RunID: "r1",
			Message: &engine.ChatMessage{Role: engine.RoleAssistant, Content: "Hello!"}},
		{Kind: engine.KindDone, Stage: engine.StageDone, RunID: "r1"},
	}

	rec := h.do(t, http.MethodPost, "/api/v1/agent/stream", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "s-stream", rec.Header().Get("X-Session-ID"))

	var frames []string
	for _, chunk := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		require.True(t, strings.HasPrefix(chunk, "data: "), chunk)
		frames = append(frames, strings.TrimPrefix(chunk, "data: "))
	}
	require.Len(t, frames, 4)
	assert.Equal(t, "[DONE]", frames[3])

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &ev))
	assert.Equal(t, engine.KindMessage, ev["kind"])
	assert.Equal(t, string(engine.StageDecide), ev["stage"])
	assert.Equal(t, "Hello!", ev["message"].(map[string]any)["content"])

	rec = h.do(t, http.MethodPost, "/api/v1/agent/stream", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/agent/stream", `{"message":"next","session_id":"waiting"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ConflictError", decode(t, rec)["error_type"])
}

func TestSessions(t *testing.T) {
	h := newHarness(t, Config{})

	rec := h.do(t, http.MethodGet, "/api/v1/agent/sessions/waiting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["suspended"])
	assert.Equal(t, "Which seniority?", data["question"])
	assert.Len(t, data["history"], 1)

	rec = h.do(t, http.MethodGet, "/api/v1/agent/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 2)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"answer suspended", http.MethodPost, "/api/v1/agent/sessions/waiting/answer", `{"answer":"senior"}`, http.StatusOK},
		{"answer idle", http.MethodPost, "/api/v1/agent/sessions/idle/answer", `{"answer":"senior"}`, http.StatusConflict},
		{"answer unknown", http.MethodPost, "/api/v1/agent/sessions/nope/answer", `{"answer":"x"}`, http.StatusNotFound},
		{"get unknown", http.MethodGet, "/api/v1/agent/sessions/nope", "", http.StatusNotFound},
		{"get invalid id", http.MethodGet, "/api/v1/agent/sessions/bad.id", "", http.StatusBadRequest},
		{"delete", http.MethodDelete, "/api/v1/agent/sessions/idle", "", http.StatusOK},
		{"delete again", http.MethodDelete, "/api/v1/agent/sessions/idle", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, []string{"senior"}, h.agent.answered)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Config{RateLimit: 2, RateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		rec := h.do(t, http.MethodGet, "/api/v1/candidates/1", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/api/v1/candidates/1", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RateLimitError", decode(t, rec)["error_type"])

	// Health checks are never limited.
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/health", "").Code)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/candidates/1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	other := httptest.NewRecorder()
	h.handler.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiterRefillsSteadily(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	hit := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.7:1234"
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, hit())
	assert.Equal(t, http.StatusNoContent, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())

	// One token comes back every window/limit, not the whole burst.
	clock = clock.Add(30 * time.Second)
	assert.Equal(t, http.StatusNoContent, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())

	clock = clock.Add(time.Minute)
	assert.Equal(t, http.StatusNoContent, hit())
	assert.Equal(t, http.StatusNoContent, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"forwarded first hop", "203.0.113.9, 10.0.0.1", "10.0.0.2:5555", "203.0.113.9"},
		{"remote addr", "", "192.0.2.7:5555", "192.0.2.7"},
		{"remote without port", "", "192.0.2.7", "192.0.2.7"},
		{"blank forwarded", " ", "192.0.2.7:1", "192.0.2.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientKey(r))
		})
	}
}

func TestMetricsAndObserver(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())

	h.do(t, http.MethodGet, "/api/v1/candidates/99", "")
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	assert.Contains(t, h.observer.routes, "GET /api/v1/candidates/{id} 404")
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(t, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFoundError", decode(t, rec)["error_type"])
}
