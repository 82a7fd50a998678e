package engine

import "fmt"

// Stage is a node of the agent graph.
type Stage string

const (
	StageDecide Stage = "decide"
	StagePlan   Stage = "plan"
	StageAct    Stage = "act"
	StageJudge  Stage = "judge"
	StageDone   Stage = "done"
)

// Event is the outcome a stage reports to the controller.
type Event string

const (
	EventDirectAnswer Event = "direct_answer"
	EventNeedsLookup  Event = "needs_lookup"
	EventPlanned      Event = "planned"
	EventToolCalled   Event = "tool_called"
	EventFinalAnswer  Event = "final_answer"
	EventAccepted     Event = "accepted"
	EventRejected     Event = "rejected"
)

// Machine is the part of the run the transition function reads and writes.
type Machine struct {
	Stage            Stage
	FeedbackRequests int
	Cap              int
}

// Transition computes the next machine for ev. It has no side effects.
//
// A rejection loops back to planning until FeedbackRequests reaches Cap;
// after that the run ends with whatever answer it has.
func Transition(m Machine, ev Event) (Machine, error) {
	next := m
	switch m.Stage {
	case StageDecide:
		switch ev {
		case EventDirectAnswer:
			next.Stage = StageDone
			return next, nil
		case EventNeedsLookup:
			next.Stage = StagePlan
			return next, nil
		}
	case StagePlan:
		if ev == EventPlanned {
			next.Stage = StageAct
			return next, nil
		}
	case StageAct:
		switch ev {
		case EventToolCalled:
			return next, nil
		case EventFinalAnswer:
			next.Stage = StageJudge
			return next, nil
		}
	case StageJudge:
		switch ev {
		case EventAccepted:
			next.Stage = StageDone
			return next, nil
		case EventRejected:
			if m.FeedbackRequests >= m.Cap {
				next.Stage = StageDone
				return next, nil
			}
			next.FeedbackRequests++
			next.Stage = StagePlan
			return next, nil
		}
	}
	return m, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, m.Stage)
}
