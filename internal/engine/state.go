package engine

import (
	"fmt"
	"time"
)

// PendingQuestion records an ask_human call that is waiting for an answer.
type PendingQuestion struct {
	CallID   string    `json:"call_id"`
	Question string    `json:"question"`
	AskedAt  time.Time `json:"asked_at"`
}

// ConversationState is everything the controller needs to drive or resume a
// run. Messages only ever grow; nothing rewrites an earlier entry.
type ConversationState struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`

	Messages            []ChatMessage `json:"messages"`
	RequiresDBQuery     bool          `json:"requires_db_query"`
	IsGoodAnswer        bool          `json:"is_good_answer"`
	NumFeedbackRequests int           `json:"num_feedback_requests"`

	Stage    Stage            `json:"stage"`
	Answer   string           `json:"answer,omitempty"`
	Feedback string           `json:"feedback,omitempty"`
	ActTurns int              `json:"act_turns"`
	Pending  *PendingQuestion `json:"pending,omitempty"`
	Totals   Usage            `json:"totals"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState creates an empty session positioned at done, ready for
// BeginRun.
func NewConversationState(sessionID string) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		Stage:     StageDone,
	}
}

func (s *ConversationState) Append(msg ChatMessage) { s.Messages = append(s.Messages, msg) }

// BeginRun starts a new traversal for userMessage. Prior messages stay so
// follow-up questions can be answered from context; per-run flags reset.
func (s *ConversationState) BeginRun(runID, userMessage string) error {
	if s.Stage != StageDone {
		return fmt.Errorf("session %s is still in %s stage", s.SessionID, s.Stage)
	}
	if s.Pending != nil {
		return fmt.Errorf("session %s is awaiting human input", s.SessionID)
	}
	s.RunID = runID
	s.Stage = StageDecide
	s.RequiresDBQuery = false
	s.IsGoodAnswer = false
	s.NumFeedbackRequests = 0
	s.Answer = ""
	s.Feedback = ""
	s.ActTurns = 0
	s.Append(ChatMessage{Role: RoleUser, Content: userMessage})
	return nil
}

// Suspended reports whether the run is paused on a human question.
func (s *ConversationState) Suspended() bool { return s.Pending != nil }

// LastMessage returns the most recent message, or false if there is none.
func (s *ConversationState) LastMessage() (ChatMessage, bool) {
	if len(s.Messages) == 0 {
		return ChatMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Messages = make([]ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m
		if len(m.ToolCalls) > 0 {
			c.Messages[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}

func (s *ConversationState) machine(retryCap int) Machine {
	return Machine{Stage: s.Stage, FeedbackRequests: s.NumFeedbackRequests, Cap: retryCap}
}

func (s *ConversationState) apply(m Machine) {
	s.Stage = m.Stage
	s.NumFeedbackRequests = m.FeedbackRequests
}
