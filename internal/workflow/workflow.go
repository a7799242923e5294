// Package workflow derives the lifecycle state of a checklist and guards its transitions.
package workflow

import (
	"fmt"

	"checkline/internal/completion"
)

type State string

const (
	StateDraft      State = "draft"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateVerified   State = "verified"
)

type Action string

const (
	ActionAnswer Action = "answer"
	ActionVerify Action = "verify"
	ActionReopen Action = "reopen"
)

// InvalidTransitionError reports an action that the current state does not allow.
type InvalidTransitionError struct {
	From   State
	Action Action
	Reason string
}

func (e InvalidTransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot %s a checklist in state %s", e.Action, e.From)
	}
	return fmt.Sprintf("cannot %s a checklist in state %s: %s", e.Action, e.From, e.Reason)
}

// Derive computes the state from persisted facts. State is never stored.
// A schema without required items is complete, and verifiable, before any answer.
func Derive(verified bool, rep completion.Report) State {
	switch {
	case verified:
		return StateVerified
	case rep.Complete():
		return StateCompleted
	case rep.Answered == 0:
		return StateDraft
	default:
		return StateInProgress
	}
}

// EnsureTransition returns an InvalidTransitionError when action is not allowed from state.
// lockVerified makes answers to a verified checklist invalid until it is reopened.
func EnsureTransition(from State, action Action, lockVerified bool) error {
	switch action {
	case ActionAnswer:
		if from == StateVerified && lockVerified {
			return InvalidTransitionError{From: from, Action: action, Reason: "reopen before changing answers"}
		}
		return nil
	case ActionVerify:
		switch from {
		case StateCompleted, StateVerified:
			return nil
		default:
			return InvalidTransitionError{From: from, Action: action, Reason: "required items are unanswered"}
		}
	case ActionReopen:
		if from != StateVerified {
			return InvalidTransitionError{From: from, Action: action, Reason: "checklist is not verified"}
		}
		return nil
	}
	return fmt.Errorf("unknown action %s", action)
}
