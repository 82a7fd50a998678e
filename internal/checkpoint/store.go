// Package checkpoint persists conversation state between stage transitions
// so that a run suspended on ask_human can be resumed later, possibly by a
// different process.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

// ErrNotFound is returned when no checkpoint exists for a session.
var ErrNotFound = errors.New("checkpoint not found")

// ErrInvalidSessionID is returned for session ids that cannot be stored.
var ErrInvalidSessionID = errors.New("invalid session id")

// Store saves and restores conversation state keyed by session id. It
// satisfies engine.Checkpointer. Load and Delete report unknown sessions
// with ErrNotFound.
type Store interface {
	Save(ctx context.Context, st *engine.ConversationState) error
	Load(ctx context.Context, sessionID string) (*engine.ConversationState, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]Meta, error)
}

// Meta is a lightweight description of a stored session for listings.
type Meta struct {
	SessionID string       `json:"session_id"`
	RunID     string       `json:"run_id"`
	Stage     engine.Stage `json:"stage"`
	Suspended bool         `json:"suspended"`
	Question  string       `json:"question,omitempty"`
	Messages  int          `json:"messages"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MetaOf summarizes st.
func MetaOf(st *engine.ConversationState) Meta {
	m := Meta{
		SessionID: st.SessionID,
		RunID:     st.RunID,
		Stage:     st.Stage,
		Suspended: st.Suspended(),
		Messages:  len(st.Messages),
		UpdatedAt: st.UpdatedAt,
	}
	if st.Pending != nil {
		m.Question = st.Pending.Question
	}
	return m
}

var _ engine.Checkpointer = Store(nil)
