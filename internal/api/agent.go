package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/cvagent/internal/checkpoint"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

type queryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// agentReply is the body of query and answer responses.
type agentReply struct {
	Type             string `json:"type"`
	Content          string `json:"content"`
	RunID            string `json:"run_id"`
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	Question         string `json:"question,omitempty"`
	Accepted         bool   `json:"accepted"`
	FeedbackRequests int    `json:"feedback_requests"`
}

func replyOf(res *engine.Result) agentReply {
	return agentReply{
		Type:             "ai",
		Content:          res.Answer,
		RunID:            res.RunID,
		SessionID:        res.SessionID,
		Status:           string(res.Status),
		Question:         res.Question,
		Accepted:         res.Accepted,
		FeedbackRequests: res.FeedbackRequests,
	}
}

// sessionView is a stored session with its history.
type sessionView struct {
	checkpoint.Meta
	History []engine.ChatMessage `json:"history"`
	Answer  string               `json:"answer,omitempty"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.agent.Query(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, replyOf(res), "")
}

// stream runs a query and writes engine events as server-sent events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "InternalServerError", "Streaming is not supported.", nil)
		return
	}

	events, sessionID, err := s.agent.Stream(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The producer stops on its own once the request context is cancelled;
	// keep draining so it never blocks on a send.
	for ev := range events {
		if r.Context().Err() != nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("failed to encode stream event", zap.String("kind", ev.Kind), zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	if r.Context().Err() == nil {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.agent.Answer(r.Context(), chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, replyOf(res), "")
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.agent.Sessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if metas == nil {
		metas = []checkpoint.Meta{}
	}
	OK(w, http.StatusOK, metas, "")
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.agent.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, sessionView{
		Meta:    checkpoint.MetaOf(st),
		History: st.Messages,
		Answer:  st.Answer,
	}, "")
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil, "Session deleted")
}
