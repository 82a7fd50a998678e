// Package agent runs conversational sessions on top of the engine
// controller and the checkpoint store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/cvagent/internal/checkpoint"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

var (
	// ErrEmptyMessage is returned for a blank query or answer.
	ErrEmptyMessage = errors.New("message must not be empty")
	// ErrAwaitingHuman is returned when a new query arrives for a session
	// that is waiting on a clarification answer.
	ErrAwaitingHuman = errors.New("session is awaiting an answer to a clarification question")
	// ErrSessionNotFound is returned when a session has no checkpoint.
	ErrSessionNotFound = errors.New("session not found")
)

// Service serializes runs per session and persists them through the
// checkpoint store. Different sessions run concurrently.
type Service struct {
	ctrl  *engine.Controller
	store checkpoint.Store
	log   *zap.Logger
	locks *keyedMutex
	newID func() string
}

// NewService wires a controller to a checkpoint store. The controller must
// have been built with the same store as its checkpointer.
func NewService(ctrl *engine.Controller, store checkpoint.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ctrl:  ctrl,
		store: store,
		log:   log,
		locks: newKeyedMutex(),
		newID: uuid.NewString,
	}
}

// Query runs message to completion or suspension on sessionID. An empty
// sessionID starts a new session.
func (s *Service) Query(ctx context.Context, sessionID, message string) (*engine.Result, error) {
	return s.query(ctx, s.ctrl, sessionID, message)
}

// Stream runs message like Query and delivers engine events on the
// returned channel, which is closed when the run ends. Setup failures,
// including a session awaiting an answer, are returned directly; failures
// during the run arrive as error events.
func (s *Service) Stream(ctx context.Context, sessionID, message string) (<-chan engine.StreamEvent, string, error) {
	if strings.TrimSpace(message) == "" {
		return nil, "", ErrEmptyMessage
	}
	sessionID, err := s.resolveID(sessionID)
	if err != nil {
		return nil, "", err
	}
	st, err := s.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if st.Suspended() {
		return nil, "", ErrAwaitingHuman
	}

	events := make(chan engine.StreamEvent)
	reported := &errorFlag{}
	ctrl := s.ctrl.WithHooks(engine.ChannelHook{Ch: events}, reported)
	go func() {
		defer close(events)
		cur, err := s.run(ctx, ctrl, sessionID, message)
		if err == nil {
			return
		}
		s.log.Warn("stream run failed", zap.String("session_id", sessionID), zap.Error(err))
		if reported.seen.Load() {
			return
		}
		ev := engine.StreamEvent{Kind: engine.KindError, Stage: engine.StageDecide, Data: err.Error()}
		if cur != nil {
			ev.Stage, ev.RunID = cur.Stage, cur.RunID
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}()
	return events, sessionID, nil
}

func (s *Service) query(ctx context.Context, ctrl *engine.Controller, sessionID, message string) (*engine.Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	sessionID, err := s.resolveID(sessionID)
	if err != nil {
		return nil, err
	}
	st, unlock, err := s.begin(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return ctrl.Run(ctx, st)
}

// run begins and runs a turn, returning the state it ran on. The state is
// nil when the session could not be loaded.
func (s *Service) run(ctx context.Context, ctrl *engine.Controller, sessionID, message string) (*engine.ConversationState, error) {
	st, unlock, err := s.begin(ctx, sessionID, message)
	if err != nil {
		return st, err
	}
	defer unlock()
	_, err = ctrl.Run(ctx, st)
	return st, err
}

// begin locks the session, loads it and starts a new run on it. On success
// the caller releases the lock with the returned func.
func (s *Service) begin(ctx context.Context, sessionID, message string) (*engine.ConversationState, func(), error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	st, err := s.loadOrCreate(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if st.Suspended() {
		unlock()
		return st, nil, ErrAwaitingHuman
	}
	if st.Stage != engine.StageDone {
		// A previous run was interrupted mid-stage; its messages stay in
		// the history and the new question starts a fresh run.
		s.log.Warn("abandoning interrupted run",
			zap.String("session_id", sessionID),
			zap.String("run_id", st.RunID),
			zap.String("stage", string(st.Stage)))
		st.Stage = engine.StageDone
	}

	if err := st.BeginRun(s.newID(), strings.TrimSpace(message)); err != nil {
		unlock()
		return st, nil, err
	}
	return st, unlock, nil
}

// Answer supplies the human answer for a suspended session and continues
// its run.
func (s *Service) Answer(ctx context.Context, sessionID, answer string) (*engine.Result, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyMessage
	}
	if err := checkpoint.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.ctrl.Resume(ctx, st, strings.TrimSpace(answer))
}

// Session returns the stored state of a session.
func (s *Service) Session(ctx context.Context, sessionID string) (*engine.ConversationState, error) {
	if err := checkpoint.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.load(ctx, sessionID)
}

// Sessions lists stored sessions, newest first.
func (s *Service) Sessions(ctx context.Context) ([]checkpoint.Meta, error) {
	return s.store.List(ctx)
}

// DeleteSession removes a session's checkpoint.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := checkpoint.ValidateSessionID(sessionID); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

func (s *Service) resolveID(sessionID string) (string, error) {
	if sessionID == "" {
		return s.newID(), nil
	}
	if err := checkpoint.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*engine.ConversationState, error) {
	st, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return st, nil
}

func (s *Service) loadOrCreate(ctx context.Context, sessionID string) (*engine.ConversationState, error) {
	st, err := s.load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return engine.NewConversationState(sessionID), nil
	}
	return st, err
}

// errorFlag records whether the controller already reported an error to
// the stream.
type errorFlag struct {
	engine.NopHook
	seen atomic.Bool
}

func (f *errorFlag) OnError(context.Context, *engine.ConversationState, error) { f.seen.Store(true) }

// keyedMutex hands out one lock per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
