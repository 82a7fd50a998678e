package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Checkpointer persists run state after every stage transition.
type Checkpointer interface {
	Save(ctx context.Context, st *ConversationState) error
}

// RunStatus describes how a Run call returned.
type RunStatus string

const (
	StatusCompleted     RunStatus = "completed"
	StatusAwaitingHuman RunStatus = "awaiting_human"
)

// Result is what a caller gets back from Run or Resume.
type Result struct {
	SessionID        string
	RunID            string
	Status           RunStatus
	Answer           string
	Question         string
	Accepted         bool
	FeedbackRequests int
}

// Controller drives a ConversationState through decide, plan, act and judge.
// One controller serves many sessions; it holds no per-run state.
type Controller struct {
	decider Decider
	planner Planner
	actor   Actor
	judge   Judge
	tools   ToolRegistry
	store   Checkpointer
	hooks   Hooks
	cfg     ControllerConfig
}

// Run advances st until the run finishes or suspends on a human question.
// st must have been started with BeginRun or loaded mid-run from a
// checkpoint.
func (c *Controller) Run(ctx context.Context, st *ConversationState) (*Result, error) {
	if st.Suspended() {
		return c.result(st), nil
	}

	for st.Stage != StageDone {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		default:
		}

		from := st.Stage
		c.hooks.OnStageStart(ctx, st)

		ev, err := c.step(ctx, st)
		if err != nil {
			c.hooks.OnError(ctx, st, err)
			return nil, WrapWithContext(err, st, "stage")
		}

		next, err := Transition(st.machine(c.cfg.RetryCap), ev)
		if err != nil {
			c.hooks.OnError(ctx, st, err)
			return nil, err
		}
		if ev == EventRejected && next.Stage == StagePlan {
			c.appendMessage(ctx, st, ChatMessage{Role: RoleUser, Content: "Feedback: " + st.Feedback})
		}
		st.apply(next)

		if next.Stage == StageAct && from != StageAct {
			st.ActTurns = 0
		}
		c.hooks.OnTransition(ctx, st, from, ev)

		if err := c.checkpoint(ctx, st); err != nil {
			return nil, err
		}

		if st.Suspended() {
			c.hooks.OnSuspend(ctx, st, *st.Pending)
			return c.result(st), nil
		}
	}

	c.hooks.OnDone(ctx, st)
	return c.result(st), nil
}

// Resume supplies the human answer to a suspended run and continues it.
func (c *Controller) Resume(ctx context.Context, st *ConversationState, answer string) (*Result, error) {
	if !st.Suspended() {
		return nil, ErrNotSuspended
	}
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("answer must not be empty")
	}
	callID := st.Pending.CallID
	st.Pending = nil
	c.appendMessage(ctx, st, ChatMessage{Role: RoleTool, Name: callID, Content: answer})
	if err := c.checkpoint(ctx, st); err != nil {
		return nil, err
	}
	return c.Run(ctx, st)
}

func (c *Controller) step(ctx context.Context, st *ConversationState) (Event, error) {
	switch st.Stage {
	case StageDecide:
		return c.decide(ctx, st)
	case StagePlan:
		return c.plan(ctx, st)
	case StageAct:
		return c.act(ctx, st)
	case StageJudge:
		return c.evaluate(ctx, st)
	case StageDone:
		return "", ErrRunFinished
	}
	return "", fmt.Errorf("unknown stage %q", st.Stage)
}

func (c *Controller) decide(ctx context.Context, st *ConversationState) (Event, error) {
	out, err := c.reasonDecision(ctx, st)
	if err != nil {
		return "", err
	}
	st.RequiresDBQuery = out.RequiresDBQuery
	if out.RequiresDBQuery {
		return EventNeedsLookup, nil
	}
	st.Answer = *out.Answer
	c.appendMessage(ctx, st, ChatMessage{Role: RoleAssistant, Content: st.Answer})
	return EventDirectAnswer, nil
}

func (c *Controller) plan(ctx context.Context, st *ConversationState) (Event, error) {
	plan, err := c.reason(ctx, st, func(ctx context.Context) (ChatMessage, error) {
		p, err := c.planner.Plan(ctx, st)
		return ChatMessage{Role: RoleAssistant, Content: p}, err
	})
	if err != nil {
		return "", err
	}
	c.appendMessage(ctx, st, plan)
	return EventPlanned, nil
}

func (c *Controller) evaluate(ctx context.Context, st *ConversationState) (Event, error) {
	sctx, cancel := c.stageContext(ctx, st)
	defer cancel()
	out, err := c.judge.Evaluate(sctx, st)
	if err != nil {
		return "", c.serviceError(sctx, st, err)
	}
	if err := out.Validate(); err != nil {
		return "", c.serviceError(sctx, st, err)
	}
	st.IsGoodAnswer = out.IsGoodAnswer
	if out.IsGoodAnswer {
		st.Feedback = ""
		return EventAccepted, nil
	}
	st.Feedback = *out.Feedback
	return EventRejected, nil
}

func (c *Controller) reasonDecision(ctx context.Context, st *ConversationState) (DecisionOutput, error) {
	sctx, cancel := c.stageContext(ctx, st)
	defer cancel()
	out, err := c.decider.Decide(sctx, st)
	if err != nil {
		return DecisionOutput{}, c.serviceError(sctx, st, err)
	}
	if err := out.Validate(); err != nil {
		return DecisionOutput{}, c.serviceError(sctx, st, err)
	}
	return out, nil
}

// reason runs one reasoning call under the stage timeout.
func (c *Controller) reason(ctx context.Context, st *ConversationState, fn func(ctx context.Context) (ChatMessage, error)) (ChatMessage, error) {
	sctx, cancel := c.stageContext(ctx, st)
	defer cancel()
	msg, err := fn(sctx)
	if err != nil {
		return ChatMessage{}, c.serviceError(sctx, st, err)
	}
	return msg, nil
}

func (c *Controller) stageContext(ctx context.Context, st *ConversationState) (context.Context, context.CancelFunc) {
	return context.WithTimeout(withState(ctx, st), c.cfg.StageTimeout)
}

func (c *Controller) serviceError(sctx context.Context, st *ConversationState, err error) error {
	if errors.Is(err, context.Canceled) && !errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("execution cancelled: %w", err)
	}
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded)
	return &ServiceError{Stage: st.Stage, Timeout: timedOut, Err: err}
}

func (c *Controller) appendMessage(ctx context.Context, st *ConversationState, msg ChatMessage) {
	st.Append(msg)
	c.hooks.OnMessage(ctx, st, msg)
}

func (c *Controller) checkpoint(ctx context.Context, st *ConversationState) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, st); err != nil {
		return WrapWithContext(fmt.Errorf("saving checkpoint: %w", err), st, "checkpoint")
	}
	return nil
}

func (c *Controller) result(st *ConversationState) *Result {
	r := &Result{
		SessionID:        st.SessionID,
		RunID:            st.RunID,
		Status:           StatusCompleted,
		Answer:           st.Answer,
		Accepted:         st.IsGoodAnswer || !st.RequiresDBQuery,
		FeedbackRequests: st.NumFeedbackRequests,
	}
	if st.Pending != nil {
		r.Status = StatusAwaitingHuman
		r.Question = st.Pending.Question
	}
	return r
}

// Config returns the controller configuration.
func (c *Controller) Config() ControllerConfig { return c.cfg }

// Tools returns the registry the acting stage offers.
func (c *Controller) Tools() ToolRegistry { return c.tools }

// WithHooks returns a controller that also notifies hooks. The receiver is
// unchanged, so per-request hooks such as a stream consumer do not leak
// into other runs.
func (c *Controller) WithHooks(hooks ...Hook) *Controller {
	cp := *c
	cp.hooks = append(append(Hooks{}, c.hooks...), hooks...)
	return &cp
}
